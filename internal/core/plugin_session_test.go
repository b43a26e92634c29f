package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idmcore/internal/config"
	"idmcore/pkg/domain"
)

const grace = config.DefaultGraceWindow

func resourceServer(t *testing.T, id uuid.UUID) domain.Entry {
	t.Helper()
	origin, err := domain.NewURL("https://app.example.com")
	require.NoError(t, err)
	return domain.NewEntry(
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassOauth2ResourceServer)),
		domain.A(domain.AttrUUID, domain.NewUUID(id)),
		domain.A(domain.AttrOauth2RSName, domain.NewIname("app")),
		domain.A(domain.AttrOauth2RSOrigin, origin),
	)
}

func session(id uuid.UUID, expiry *time.Time) domain.Value {
	return domain.NewSession(domain.Session{
		ID:       id,
		Label:    "browser",
		Expiry:   expiry,
		IssuedAt: t0,
		IssuedBy: domain.IdentityID{Kind: domain.IdentityUser, ID: uuid.New()},
		Scope:    domain.ScopeReadWrite,
	})
}

func oauth2Session(id, parent, rs uuid.UUID, issued time.Time, expiry *time.Time) domain.Value {
	return domain.NewOauth2Session(domain.Oauth2Session{
		ID:       id,
		Parent:   parent,
		Expiry:   expiry,
		IssuedAt: issued,
		RSUUID:   rs,
	})
}

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func hasSession(e domain.Entry, id uuid.UUID) bool {
	return e.AttributeEquality(domain.AttrUserAuthTokenSession, domain.PartialUUID(id))
}

func hasOauth2Session(e domain.Entry, id uuid.UUID) bool {
	return e.AttributeEquality(domain.AttrOauth2Session, domain.PartialUUID(id))
}

var unrelatedChange = domain.NewPurgeAndSet(domain.AttrDisplayName, domain.NewUtf8("Renamed"))

func TestExpiredSessionRemovedOnUnrelatedWrite(t *testing.T) {
	s := newTestServer(t)
	sid := uuid.New()
	commitCreate(t, s, t0, account("olivia", domain.A(domain.AttrUserAuthTokenSession, session(sid, at(60*time.Second)))))
	require.True(t, hasSession(mustGet(t, s, byName("olivia")), sid))

	commitModify(t, s, t0.Add(60*time.Second), byName("olivia"), unrelatedChange)

	got := mustGet(t, s, byName("olivia"))
	assert.False(t, hasSession(got, sid))
	assert.True(t, got.AttributeEquality(domain.AttrDisplayName, domain.PartialUtf8("Renamed")))
}

func TestUnexpiredSessionSurvives(t *testing.T) {
	s := newTestServer(t)
	sid := uuid.New()
	commitCreate(t, s, t0, account("peggy", domain.A(domain.AttrUserAuthTokenSession, session(sid, at(time.Hour)))))
	commitModify(t, s, t0.Add(59*time.Minute), byName("peggy"), unrelatedChange)
	assert.True(t, hasSession(mustGet(t, s, byName("peggy")), sid))
}

func TestExpiredOauth2SessionPurgedParentKept(t *testing.T) {
	s := newTestServer(t)
	rs, parent, child := uuid.New(), uuid.New(), uuid.New()
	commitCreate(t, s, t0,
		resourceServer(t, rs),
		account("quinn",
			domain.A(domain.AttrUserAuthTokenSession, session(parent, nil)),
			domain.A(domain.AttrOauth2Session, oauth2Session(child, parent, rs, t0, at(grace))),
		),
	)

	commitModify(t, s, t0.Add(grace), byName("quinn"), unrelatedChange)

	got := mustGet(t, s, byName("quinn"))
	assert.True(t, hasSession(got, parent))
	assert.False(t, hasOauth2Session(got, child))
}

func TestRemovingParentRemovesChildren(t *testing.T) {
	s := newTestServer(t)
	rs, parent, child := uuid.New(), uuid.New(), uuid.New()
	commitCreate(t, s, t0,
		resourceServer(t, rs),
		account("rupert",
			domain.A(domain.AttrUserAuthTokenSession, session(parent, nil)),
			domain.A(domain.AttrOauth2Session, oauth2Session(child, parent, rs, t0, nil)),
		),
	)

	commitModify(t, s, t0.Add(time.Second), byName("rupert"),
		domain.NewRemove(domain.AttrUserAuthTokenSession, domain.PartialUUID(parent)))

	got := mustGet(t, s, byName("rupert"))
	assert.False(t, hasSession(got, parent))
	assert.False(t, hasOauth2Session(got, child), "child removed in the same transaction as its parent")
}

func TestParentlessOauth2SessionGraceWindow(t *testing.T) {
	s := newTestServer(t)
	rs, child := uuid.New(), uuid.New()
	commitCreate(t, s, t0,
		resourceServer(t, rs),
		account("sybil", domain.A(domain.AttrOauth2Session, oauth2Session(child, uuid.New(), rs, t0, nil))),
	)
	before := mustGet(t, s, byName("sybil"))
	require.True(t, hasOauth2Session(before, child))

	commitModify(t, s, t0.Add(grace-time.Second), byName("sybil"), unrelatedChange)
	within := mustGet(t, s, byName("sybil"))
	require.True(t, hasOauth2Session(within, child), "tolerated inside the grace window")
	assert.True(t, within.Attrs[domain.AttrOauth2Session].Equal(before.Attrs[domain.AttrOauth2Session]), "value unchanged")

	commitModify(t, s, t0.Add(grace), byName("sybil"), domain.NewPurgeAndSet(domain.AttrDisplayName, domain.NewUtf8("Again")))
	assert.False(t, hasOauth2Session(mustGet(t, s, byName("sybil")), child))
}

func TestSessionRulesApplyOnCreate(t *testing.T) {
	s := newTestServer(t)
	rs, expired, child, stale := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	commitCreate(t, s, t0, resourceServer(t, rs))

	commitCreate(t, s, t0.Add(grace),
		account("trent",
			domain.A(domain.AttrUserAuthTokenSession, session(expired, at(time.Minute))),
			domain.A(domain.AttrOauth2Session, oauth2Session(child, expired, rs, t0.Add(grace), nil)),
			domain.A(domain.AttrOauth2Session, oauth2Session(stale, uuid.New(), rs, t0, nil)),
		),
	)

	got := mustGet(t, s, byName("trent"))
	assert.False(t, hasSession(got, expired))
	assert.False(t, hasOauth2Session(got, child), "parent expired in this transaction")
	assert.False(t, hasOauth2Session(got, stale), "parentless beyond the grace window")
}

func TestSessionPluginUsesConfiguredGrace(t *testing.T) {
	short := time.Minute
	s := newTestServer(t, WithPipeline(DefaultPipeline(short)))
	rs, child := uuid.New(), uuid.New()
	commitCreate(t, s, t0,
		resourceServer(t, rs),
		account("uma", domain.A(domain.AttrOauth2Session, oauth2Session(child, uuid.New(), rs, t0, nil))),
	)
	commitModify(t, s, t0.Add(short), byName("uma"), unrelatedChange)
	assert.False(t, hasOauth2Session(mustGet(t, s, byName("uma")), child))
}

func TestOauth2SessionRequiresResourceServer(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	txn, err := s.WriteAt(ctx, t0)
	require.NoError(t, err)
	err = txn.InternalCreate(ctx, []domain.Entry{
		account("victor", domain.A(domain.AttrOauth2Session, oauth2Session(uuid.New(), uuid.New(), uuid.New(), t0, nil))),
	})
	require.Error(t, err)
	assert.True(t, domain.ErrPlugin.Has(err))

	rs := uuid.New()
	commitCreate(t, s, t0, resourceServer(t, rs), account("wendy"))
	txn, err = s.WriteAt(ctx, t0)
	require.NoError(t, err)
	err = txn.InternalModify(ctx, byName("wendy"), domain.NewAppend(domain.AttrOauth2Session,
		oauth2Session(uuid.New(), uuid.New(), uuid.New(), t0, nil)))
	require.Error(t, err)
	assert.True(t, domain.ErrPlugin.Has(err))
}

func TestPipelineOrder(t *testing.T) {
	var ids []string
	for _, p := range DefaultPipeline(grace).Plugins() {
		ids = append(ids, p.ID())
	}
	assert.Equal(t, []string{"plugin_base", "plugin_oauth2_refint", "plugin_session_consistency"}, ids)
}

func TestDefaultPipelineIsIdempotentAtFixedTime(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	rs, live, expiring, child, derived, young := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	commitCreate(t, s, t0,
		resourceServer(t, rs),
		account("xena",
			domain.A(domain.AttrUserAuthTokenSession, session(live, nil)),
			domain.A(domain.AttrUserAuthTokenSession, session(expiring, at(time.Minute))),
			domain.A(domain.AttrOauth2Session, oauth2Session(child, expiring, rs, t0, nil)),
			domain.A(domain.AttrOauth2Session, oauth2Session(derived, live, rs, t0, nil)),
			domain.A(domain.AttrOauth2Session, oauth2Session(young, uuid.New(), rs, t0, nil)),
		),
	)

	now := t0.Add(2 * time.Minute)
	txn, err := s.WriteAt(ctx, now)
	require.NoError(t, err)
	defer txn.Abort()
	pipeline := DefaultPipeline(grace)
	view := pluginView{txn}

	pre, err := txn.InternalSearch(ctx, byName("xena"))
	require.NoError(t, err)
	require.Len(t, pre, 1)
	modified := pre[0].Clone()
	require.NoError(t, modified.ApplyModifyList(unrelatedChange))
	modEvent := domain.NewInternalModify(byName("xena"), unrelatedChange)

	require.NoError(t, pipeline.RunPreModify(ctx, view, []*domain.Entry{&modified}, modEvent))
	assert.False(t, hasSession(modified, expiring))
	assert.False(t, hasOauth2Session(modified, child))
	assert.True(t, hasOauth2Session(modified, derived))
	assert.True(t, hasOauth2Session(modified, young))
	once := modified.Clone()
	require.NoError(t, pipeline.RunPreModify(ctx, view, []*domain.Entry{&modified}, modEvent))
	assert.True(t, once.Equal(modified), "second pre-modify run changes nothing")

	created := account("yuri",
		domain.A(domain.AttrUserAuthTokenSession, session(uuid.New(), at(time.Minute))),
		domain.A(domain.AttrOauth2Session, oauth2Session(uuid.New(), uuid.New(), rs, t0.Add(-time.Hour), nil)),
		domain.A(domain.AttrOauth2Session, oauth2Session(uuid.New(), uuid.New(), rs, now, nil)),
	)
	createEvent := domain.NewInternalCreate([]domain.Entry{created})
	require.NoError(t, pipeline.RunPreCreate(ctx, view, []*domain.Entry{&created}, createEvent))
	_, ok := created.ID()
	require.True(t, ok)
	assert.Empty(t, created.Sessions())
	assert.Len(t, created.Oauth2Sessions(), 1)
	once = created.Clone()
	require.NoError(t, pipeline.RunPreCreate(ctx, view, []*domain.Entry{&created}, createEvent))
	assert.True(t, once.Equal(created), "second pre-create run changes nothing")
}

type unreadableView struct{}

func (unreadableView) CurrentTime() time.Time { return t0 }

func (unreadableView) Search(context.Context, domain.Filter) ([]domain.Entry, error) {
	return nil, errors.New("records offline")
}

func (unreadableView) Exists(context.Context, domain.Filter) (bool, error) {
	return false, errors.New("records offline")
}

func TestSessionPluginOnlyFailsOnUnreadablePreImage(t *testing.T) {
	ctx := context.Background()
	p := NewSessionConsistencyPlugin(grace)
	c := account("zoe",
		domain.A(domain.AttrUUID, domain.NewUUID(uuid.New())),
		domain.A(domain.AttrUserAuthTokenSession, session(uuid.New(), at(-time.Second))),
	)

	created := c.Clone()
	require.NoError(t, p.PreCreate(ctx, unreadableView{}, []*domain.Entry{&created}, nil))
	assert.Empty(t, created.Sessions())

	modified := c.Clone()
	err := p.PreModify(ctx, unreadableView{}, []*domain.Entry{&modified}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "records offline")
}
