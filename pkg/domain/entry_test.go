package domain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleEntry(id uuid.UUID) Entry {
	exp := epoch.Add(time.Hour)
	return NewEntry(
		A(AttrClass, NewClass("Account")),
		A(AttrClass, NewClass(ClassObject)),
		A(AttrUUID, NewUUID(id)),
		A(AttrName, NewIname("Alice")),
		A(AttrDisplayName, NewUtf8("Alice Liddell")),
		A(AttrUserAuthTokenSession, NewSession(Session{
			ID:       uuid.New(),
			Label:    "cli",
			Expiry:   &exp,
			IssuedAt: epoch,
			IssuedBy: IdentityID{Kind: IdentityUser, ID: id},
			Scope:    ScopeReadOnly,
		})),
	)
}

func TestEntryJSONPreservesValues(t *testing.T) {
	e := sampleEntry(uuid.New())
	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var got Entry
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.True(t, e.Equal(got))
	require.Len(t, got.Sessions(), 1)
	assert.Equal(t, ScopeReadOnly, got.Sessions()[0].Scope)
}

func TestUnmarshalValueRejectsUnknownSyntax(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"type":"spn","value":"x"}`))
	require.Error(t, err)

	_, err = UnmarshalValue([]byte(`{"type":"uuid","value":"not-a-uuid"}`))
	require.Error(t, err)
}

func TestNewURLRequiresAbsolute(t *testing.T) {
	_, err := NewURL("/relative")
	require.Error(t, err)
	v, err := NewURL("https://idm.example.com")
	require.NoError(t, err)
	assert.Equal(t, SyntaxURL, v.Syntax())
}

func TestEntryAccessors(t *testing.T) {
	id := uuid.New()
	e := sampleEntry(id)

	got, ok := e.ID()
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.True(t, e.HasClass("ACCOUNT"))
	assert.True(t, e.AttributeEquality(AttrName, PartialIname("ALICE")))
	assert.False(t, e.AttributeEquality(AttrDisplayName, PartialUtf8("alice liddell")), "utf8 is case sensitive")
	assert.Equal(t, []string{AttrClass, AttrDisplayName, AttrName, AttrUserAuthTokenSession, AttrUUID}, e.AttributeNames())

	_, ok = NewEntry(A(AttrName, NewIname("x"))).ID()
	assert.False(t, ok)
}

func TestCloneIsIndependent(t *testing.T) {
	e := sampleEntry(uuid.New())
	cp := e.Clone()
	cp.AddValue(AttrDescription, NewUtf8("changed"))
	cp.Purge(AttrDisplayName)

	assert.False(t, e.Has(AttrDescription))
	assert.True(t, e.Has(AttrDisplayName))
	assert.False(t, e.Equal(cp))
}

func TestApplyModifyListInOrder(t *testing.T) {
	e := NewEntry(A(AttrDescription, NewUtf8("a")), A(AttrDescription, NewUtf8("b")))
	err := e.ApplyModifyList(NewModifyList(
		Remove(AttrDescription, PartialUtf8("a")),
		Present(AttrDescription, NewUtf8("c")),
		Purge(AttrDisplayName),
		PurgeAndSet(AttrName, NewIname("Zed")),
		Present(AttrName, NewIname("zed")),
	))
	require.NoError(t, err)
	assert.True(t, e.Attrs[AttrDescription].Equal(NewValueSet(NewUtf8("b"), NewUtf8("c"))))
	assert.Equal(t, []Value{Iname("zed")}, e.Get(AttrName))

	e = NewEntry(A(AttrDescription, NewUtf8("a")))
	require.NoError(t, e.ApplyModifyList(NewModifyList(Purge(AttrDescription), Present(AttrDescription, NewUtf8("z")))))
	assert.Equal(t, []Value{Utf8("z")}, e.Get(AttrDescription))

	require.Error(t, e.ApplyModifyList(ModifyList{{Kind: ModPresent, Attr: AttrDescription}}))
}

func TestModifyListAttributes(t *testing.T) {
	ml := NewModifyList(Purge(AttrName), Present(AttrDescription, NewUtf8("x")), Purge(AttrName))
	assert.ElementsMatch(t, []string{AttrName, AttrDescription}, ml.Attributes())
}

func TestFilterFromAttrs(t *testing.T) {
	id := uuid.New()
	e := sampleEntry(id)
	f, err := e.FilterFromAttrs([]string{AttrName, AttrUUID})
	require.NoError(t, err)
	assert.True(t, f.Matches(e))

	other := sampleEntry(uuid.New())
	assert.False(t, f.Matches(other), "same name, different uuid")

	_, err = NewEntry(A(AttrDescription, NewUtf8("x"))).FilterFromAttrs([]string{AttrName, AttrUUID})
	require.Error(t, err)
	assert.True(t, ErrFilterGeneration.Has(err))
}

func TestFilterEvaluation(t *testing.T) {
	e := sampleEntry(uuid.New())
	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"eq", Eq(AttrName, PartialIname("alice")), true},
		{"eq miss", Eq(AttrName, PartialIname("bob")), false},
		{"pres", Pres(AttrDisplayName), true},
		{"pres miss", Pres(AttrDescription), false},
		{"empty and", And(), true},
		{"empty or", Or(), false},
		{"or", Or(Pres(AttrDescription), Eq(AttrClass, PartialClass(ClassAccount))), true},
		{"and", And(Pres(AttrName), Pres(AttrDescription)), false},
		{"andnot", AndNot(Pres(AttrDescription)), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Matches(e))
		})
	}
}

func TestFilterAttributesAndString(t *testing.T) {
	f := And(Eq(AttrName, PartialIname("a")), Or(Pres(AttrUUID), AndNot(Pres(AttrName))))
	assert.Equal(t, []string{AttrName, AttrUUID}, f.Attributes())
	assert.Equal(t, "(and (eq name a) (or (pres uuid) (not (pres name))))", f.String())
}

func TestSessionExpiry(t *testing.T) {
	exp := epoch.Add(time.Minute)
	s := Session{ID: uuid.New(), Expiry: &exp}
	assert.False(t, s.Expired(epoch))
	assert.True(t, s.Expired(exp), "expiry is inclusive")
	assert.False(t, Session{ID: uuid.New()}.Expired(epoch.Add(24*time.Hour)))

	o := Oauth2Session{ID: uuid.New(), Expiry: &exp}
	assert.True(t, o.Expired(exp.Add(time.Second)))
}

func TestSortEntries(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	entries := []Entry{sampleEntry(a), sampleEntry(b)}
	SortEntries(entries)
	first, _ := entries[0].ID()
	assert.Equal(t, b, first)
}

type recordingPlugin struct {
	id    string
	calls *[]string
	err   error
}

func (p recordingPlugin) ID() string { return p.id }

func (p recordingPlugin) PreCreate(context.Context, PluginView, []*Entry, *CreateEvent) error {
	*p.calls = append(*p.calls, p.id+":create")
	return p.err
}

type modifyOnly struct {
	calls *[]string
}

func (modifyOnly) ID() string { return "modify_only" }

func (p modifyOnly) PreModify(context.Context, PluginView, []*Entry, *ModifyEvent) error {
	*p.calls = append(*p.calls, "modify_only:modify")
	return nil
}

func TestPipelineRunsHooksInOrder(t *testing.T) {
	ctx := context.Background()
	var calls []string
	p := NewPipeline(recordingPlugin{id: "first", calls: &calls}, nil, modifyOnly{calls: &calls}, recordingPlugin{id: "second", calls: &calls})
	require.Len(t, p.Plugins(), 3)

	require.NoError(t, p.RunPreCreate(ctx, nil, nil, NewInternalCreate(nil)))
	require.NoError(t, p.RunPreModify(ctx, nil, nil, NewInternalModify(And(), nil)))
	assert.Equal(t, []string{"first:create", "second:create", "modify_only:modify"}, calls)
}

func TestPipelineStopsAtFirstError(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	p := NewPipeline(recordingPlugin{id: "reject", calls: &calls, err: boom}, recordingPlugin{id: "after", calls: &calls})

	err := p.RunPreCreate(context.Background(), nil, nil, NewInternalCreate(nil))
	require.Error(t, err)
	assert.True(t, ErrPlugin.Has(err))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "reject")
	assert.Equal(t, []string{"reject:create"}, calls)
}

func TestInternalEvents(t *testing.T) {
	ev := NewInternalSearch(Pres(AttrUUID))
	assert.Equal(t, OpSearch, ev.Operation())
	assert.True(t, ev.Identity().IsInternal())
	assert.Equal(t, OpExists, NewInternalExists(And()).Operation())

	id := uuid.New()
	assert.False(t, UserIdentity(id).IsInternal())
	assert.Contains(t, UserIdentity(id).String(), id.String())
}

func TestCanonicalAttributeNames(t *testing.T) {
	e := NewEntry(A("DisplayName", NewUtf8("a")), A(AttrDisplayName, NewUtf8("b")), A("UUID", NewUUID(uuid.New())))
	c := e.Canonical()
	assert.Equal(t, []string{AttrDisplayName, AttrUUID}, c.AttributeNames())
	assert.Len(t, c.Get(AttrDisplayName), 2)
	_, ok := c.ID()
	assert.True(t, ok)
	assert.Contains(t, e.Attrs, "DisplayName", "original untouched")

	f := And(Eq("NAME", PartialIname("x")), AndNot(Pres("Uuid")))
	assert.Equal(t, "(and (eq name x) (not (pres uuid)))", f.Canonical().String())
	assert.Equal(t, "NAME", f.Children[0].Attr, "original untouched")

	ml := NewModifyList(Purge("DisplayName"), Present("Name", NewIname("y")))
	assert.Equal(t, []string{AttrDisplayName, AttrName}, ml.Canonical().Attributes())
	assert.Equal(t, "DisplayName", ml[0].Attr)
}
