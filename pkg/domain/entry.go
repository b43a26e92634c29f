package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Well-known attribute names used by the core.
const (
	AttrClass                = "class"
	AttrUUID                 = "uuid"
	AttrName                 = "name"
	AttrDescription          = "description"
	AttrDisplayName          = "displayname"
	AttrVersion              = "version"
	AttrUserAuthTokenSession = "user_auth_token_session"
	AttrOauth2Session        = "oauth2_session"
	AttrOauth2RSName         = "oauth2_rs_name"
	AttrOauth2RSOrigin       = "oauth2_rs_origin"
)

// Well-known class names used by the core.
const (
	ClassObject                    = "object"
	ClassPerson                    = "person"
	ClassAccount                   = "account"
	ClassSystemInfo                = "system_info"
	ClassOauth2ResourceServer      = "oauth2_resource_server"
	ClassOauth2ResourceServerBasic = "oauth2_resource_server_basic"
)

// ValueSet is an unordered set of values keyed by Value.Key.
type ValueSet map[string]Value

// NewValueSet builds a set from the supplied values.
func NewValueSet(values ...Value) ValueSet {
	vs := make(ValueSet, len(values))
	for _, v := range values {
		vs[v.Key()] = v
	}
	return vs
}

// Sorted returns the values ordered by key.
func (vs ValueSet) Sorted() []Value {
	keys := make([]string, 0, len(vs))
	for k := range vs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Value, 0, len(keys))
	for _, k := range keys {
		out = append(out, vs[k])
	}
	return out
}

// Clone copies the set. Values are immutable and shared.
func (vs ValueSet) Clone() ValueSet {
	cp := make(ValueSet, len(vs))
	for k, v := range vs {
		cp[k] = v
	}
	return cp
}

// Equal reports whether both sets hold the same values.
func (vs ValueSet) Equal(other ValueSet) bool {
	if len(vs) != len(other) {
		return false
	}
	for k, v := range vs {
		o, ok := other[k]
		if !ok || !valuesEqual(v, o) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b Value) bool {
	if a.Syntax() != b.Syntax() {
		return false
	}
	ra, errA := MarshalValue(a)
	rb, errB := MarshalValue(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

// MarshalJSON encodes the set as a key-ordered array of tagged values.
func (vs ValueSet) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(vs))
	for _, v := range vs.Sorted() {
		raw, err := MarshalValue(v)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// UnmarshalJSON decodes an array of tagged values.
func (vs *ValueSet) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(ValueSet, len(raws))
	for _, raw := range raws {
		v, err := UnmarshalValue(raw)
		if err != nil {
			return err
		}
		out[v.Key()] = v
	}
	*vs = out
	return nil
}

// Entry is a directory object: a mapping from attribute name to a set of
// values. Its identifier is the single value of the uuid attribute.
type Entry struct {
	Attrs map[string]ValueSet `json:"attrs"`
}

// Attribute pairs a name with values for NewEntry.
type Attribute struct {
	Name  string
	Value Value
}

// A builds an Attribute pair.
func A(name string, v Value) Attribute { return Attribute{Name: name, Value: v} }

// NewEntry builds an entry from attribute/value pairs. Repeated names add
// values to the same attribute.
func NewEntry(attrs ...Attribute) Entry {
	e := Entry{Attrs: make(map[string]ValueSet)}
	for _, a := range attrs {
		e.AddValue(a.Name, a.Value)
	}
	return e
}

// CanonicalAttr is the form attribute names take in stored entries, filters
// and modify lists. Attribute names are case-insensitive.
func CanonicalAttr(name string) string { return strings.ToLower(name) }

// Canonical returns a deep copy of e with attribute names in canonical form.
// Values under names that differ only in case are merged.
func (e Entry) Canonical() Entry {
	out := Entry{Attrs: make(map[string]ValueSet, len(e.Attrs))}
	for name, vs := range e.Attrs {
		for _, v := range vs {
			out.AddValue(CanonicalAttr(name), v)
		}
	}
	return out
}

// ID returns the entry identifier when exactly one uuid value is present.
func (e Entry) ID() (uuid.UUID, bool) {
	vs := e.Attrs[AttrUUID]
	if len(vs) != 1 {
		return uuid.Nil, false
	}
	for _, v := range vs {
		if id, ok := v.(UUIDValue); ok {
			return uuid.UUID(id), true
		}
	}
	return uuid.Nil, false
}

// Get returns the values of attr ordered by key.
func (e Entry) Get(attr string) []Value {
	return e.Attrs[attr].Sorted()
}

// Has reports whether attr carries at least one value.
func (e Entry) Has(attr string) bool {
	return len(e.Attrs[attr]) > 0
}

// Classes returns the class names of the entry.
func (e Entry) Classes() []string {
	vals := e.Get(AttrClass)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.Key())
	}
	return out
}

// HasClass reports whether the entry carries class name.
func (e Entry) HasClass(name string) bool {
	return e.AttributeEquality(AttrClass, PartialClass(name))
}

// AttributeEquality reports whether attr holds a value matching pv.
func (e Entry) AttributeEquality(attr string, pv PartialValue) bool {
	_, ok := e.Attrs[attr][pv.Key()]
	return ok
}

// AddValue inserts v into attr.
func (e *Entry) AddValue(attr string, v Value) {
	if e.Attrs == nil {
		e.Attrs = make(map[string]ValueSet)
	}
	vs, ok := e.Attrs[attr]
	if !ok {
		vs = make(ValueSet)
		e.Attrs[attr] = vs
	}
	vs[v.Key()] = v
}

// RemoveValue removes the value of attr matching pv and reports whether one
// was present. Empty attributes are dropped.
func (e *Entry) RemoveValue(attr string, pv PartialValue) bool {
	vs, ok := e.Attrs[attr]
	if !ok {
		return false
	}
	if _, ok := vs[pv.Key()]; !ok {
		return false
	}
	delete(vs, pv.Key())
	if len(vs) == 0 {
		delete(e.Attrs, attr)
	}
	return true
}

// Purge removes every value of attr.
func (e *Entry) Purge(attr string) {
	delete(e.Attrs, attr)
}

// Clone returns a deep copy of the entry's attribute map.
func (e Entry) Clone() Entry {
	cp := Entry{Attrs: make(map[string]ValueSet, len(e.Attrs))}
	for k, vs := range e.Attrs {
		cp.Attrs[k] = vs.Clone()
	}
	return cp
}

// Equal reports whether both entries hold identical attribute sets.
func (e Entry) Equal(other Entry) bool {
	if len(e.Attrs) != len(other.Attrs) {
		return false
	}
	for k, vs := range e.Attrs {
		if !vs.Equal(other.Attrs[k]) {
			return false
		}
	}
	return true
}

// AttributeNames returns the attribute names ordered lexically.
func (e Entry) AttributeNames() []string {
	out := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ApplyModifyList applies ml in order.
func (e *Entry) ApplyModifyList(ml ModifyList) error {
	for _, m := range ml {
		switch m.Kind {
		case ModPresent:
			if m.Value == nil {
				return fmt.Errorf("present on %s: missing value", m.Attr)
			}
			e.AddValue(m.Attr, m.Value)
		case ModRemove:
			e.RemoveValue(m.Attr, m.Partial)
		case ModPurge:
			e.Purge(m.Attr)
		case ModPurgeAndSet:
			if m.Value == nil {
				return fmt.Errorf("purge and set on %s: missing value", m.Attr)
			}
			e.Purge(m.Attr)
			e.AddValue(m.Attr, m.Value)
		default:
			return fmt.Errorf("unknown modification kind %d", m.Kind)
		}
	}
	return nil
}

// FilterFromAttrs builds a conjunction of equality terms over the values of
// the named attributes that the entry carries. It fails when none of them are
// present.
func (e Entry) FilterFromAttrs(attrs []string) (Filter, error) {
	var terms []Filter
	for _, attr := range attrs {
		for _, v := range e.Get(attr) {
			terms = append(terms, Eq(attr, PartialFromValue(v)))
		}
	}
	if len(terms) == 0 {
		return Filter{}, ErrFilterGeneration.New("entry has none of %v", attrs)
	}
	return And(terms...), nil
}

// Sessions returns the session values on the entry.
func (e Entry) Sessions() []Session {
	var out []Session
	for _, v := range e.Get(AttrUserAuthTokenSession) {
		if s, ok := v.(Session); ok {
			out = append(out, s)
		}
	}
	return out
}

// Oauth2Sessions returns the oauth2 session values on the entry.
func (e Entry) Oauth2Sessions() []Oauth2Session {
	var out []Oauth2Session
	for _, v := range e.Get(AttrOauth2Session) {
		if s, ok := v.(Oauth2Session); ok {
			out = append(out, s)
		}
	}
	return out
}

// SortEntries orders entries by identifier for deterministic results.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, _ := entries[i].ID()
		b, _ := entries[j].ID()
		return a.String() < b.String()
	})
}
