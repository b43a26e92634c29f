package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Syntax tags the concrete variant of a Value. It doubles as the JSON
// discriminant and as the attribute syntax recorded by the schema.
type Syntax string

// Supported value syntaxes.
const (
	SyntaxUtf8          Syntax = "utf8"
	SyntaxIname         Syntax = "iname"
	SyntaxClass         Syntax = "class"
	SyntaxUUID          Syntax = "uuid"
	SyntaxRefer         Syntax = "refer"
	SyntaxURL           Syntax = "url"
	SyntaxBool          Syntax = "bool"
	SyntaxUint32        Syntax = "uint32"
	SyntaxSession       Syntax = "session"
	SyntaxOauth2Session Syntax = "oauth2_session"
)

// Value is a sealed sum type. Only the variants declared in this file
// implement it.
type Value interface {
	Syntax() Syntax
	// Key is the identity of the value inside a ValueSet.
	Key() string
	sealedValue()
}

// Utf8 is a case-sensitive string.
type Utf8 string

// Iname is a case-insensitive identifier, stored lower-cased.
type Iname string

// Class names an entry class.
type Class string

// UUIDValue holds a uuid.
type UUIDValue uuid.UUID

// Refer references another entry by uuid.
type Refer uuid.UUID

// URL holds an absolute URL in text form.
type URL string

// Bool holds a boolean flag.
type Bool bool

// Uint32 holds an unsigned integer.
type Uint32 uint32

// AccessScope records what a session was permitted to do when issued.
type AccessScope string

// Access scopes recorded on sessions.
const (
	ScopeIdentityOnly AccessScope = "identity_only"
	ScopeReadOnly     AccessScope = "read_only"
	ScopeReadWrite    AccessScope = "read_write"
	ScopeSynchronise  AccessScope = "synchronise"
)

// IdentityKind distinguishes who issued a session.
type IdentityKind string

// Identity kinds.
const (
	IdentityInternal IdentityKind = "internal"
	IdentityUser     IdentityKind = "user"
	IdentitySynch    IdentityKind = "synch"
)

// IdentityID references the identity that issued a session.
type IdentityID struct {
	Kind IdentityKind `json:"kind"`
	ID   uuid.UUID    `json:"id"`
}

// Session is a top-level authentication session attached to an account.
type Session struct {
	ID       uuid.UUID   `json:"id"`
	Label    string      `json:"label"`
	Expiry   *time.Time  `json:"expiry,omitempty"`
	IssuedAt time.Time   `json:"issued_at"`
	IssuedBy IdentityID  `json:"issued_by"`
	Scope    AccessScope `json:"scope"`
}

// Oauth2Session is a session derived from a parent Session and scoped to a
// resource server.
type Oauth2Session struct {
	ID       uuid.UUID  `json:"id"`
	Parent   uuid.UUID  `json:"parent"`
	Expiry   *time.Time `json:"expiry,omitempty"`
	IssuedAt time.Time  `json:"issued_at"`
	RSUUID   uuid.UUID  `json:"rs_uuid"`
}

func (Utf8) Syntax() Syntax          { return SyntaxUtf8 }
func (Iname) Syntax() Syntax         { return SyntaxIname }
func (Class) Syntax() Syntax         { return SyntaxClass }
func (UUIDValue) Syntax() Syntax     { return SyntaxUUID }
func (Refer) Syntax() Syntax         { return SyntaxRefer }
func (URL) Syntax() Syntax           { return SyntaxURL }
func (Bool) Syntax() Syntax          { return SyntaxBool }
func (Uint32) Syntax() Syntax        { return SyntaxUint32 }
func (Session) Syntax() Syntax       { return SyntaxSession }
func (Oauth2Session) Syntax() Syntax { return SyntaxOauth2Session }

func (v Utf8) Key() string          { return string(v) }
func (v Iname) Key() string         { return strings.ToLower(string(v)) }
func (v Class) Key() string         { return strings.ToLower(string(v)) }
func (v UUIDValue) Key() string     { return uuid.UUID(v).String() }
func (v Refer) Key() string         { return uuid.UUID(v).String() }
func (v URL) Key() string           { return string(v) }
func (v Bool) Key() string          { return strconv.FormatBool(bool(v)) }
func (v Uint32) Key() string        { return strconv.FormatUint(uint64(v), 10) }
func (v Session) Key() string       { return v.ID.String() }
func (v Oauth2Session) Key() string { return v.ID.String() }

func (Utf8) sealedValue()          {}
func (Iname) sealedValue()         {}
func (Class) sealedValue()         {}
func (UUIDValue) sealedValue()     {}
func (Refer) sealedValue()         {}
func (URL) sealedValue()           {}
func (Bool) sealedValue()          {}
func (Uint32) sealedValue()        {}
func (Session) sealedValue()       {}
func (Oauth2Session) sealedValue() {}

// NewUtf8 builds a case-sensitive string value.
func NewUtf8(s string) Value { return Utf8(s) }

// NewIname builds a lower-cased identifier value.
func NewIname(s string) Value { return Iname(strings.ToLower(s)) }

// NewClass builds a class value.
func NewClass(s string) Value { return Class(strings.ToLower(s)) }

// NewUUID builds a uuid value.
func NewUUID(id uuid.UUID) Value { return UUIDValue(id) }

// NewRefer builds a reference value.
func NewRefer(id uuid.UUID) Value { return Refer(id) }

// NewBool builds a boolean value.
func NewBool(b bool) Value { return Bool(b) }

// NewUint32 builds an unsigned integer value.
func NewUint32(n uint32) Value { return Uint32(n) }

// NewURL parses s and builds a URL value. Only absolute URLs are accepted.
func NewURL(s string) (Value, error) {
	if !strings.Contains(s, "://") {
		return nil, fmt.Errorf("url %q is not absolute", s)
	}
	return URL(s), nil
}

// NewSession wraps a session as a value.
func NewSession(s Session) Value { return s }

// NewOauth2Session wraps an oauth2 session as a value.
func NewOauth2Session(s Oauth2Session) Value { return s }

// Expired reports whether the session expiry is at or before now.
func (v Session) Expired(now time.Time) bool {
	return v.Expiry != nil && !v.Expiry.After(now)
}

// Expired reports whether the oauth2 session expiry is at or before now.
func (v Oauth2Session) Expired(now time.Time) bool {
	return v.Expiry != nil && !v.Expiry.After(now)
}

// PartialValue identifies a value by key without carrying its payload. It is
// used by equality filters and Remove modifications.
type PartialValue struct {
	key string
}

// Key returns the value key this partial value matches.
func (p PartialValue) Key() string { return p.key }

// Matches reports whether v has the same key.
func (p PartialValue) Matches(v Value) bool { return v != nil && v.Key() == p.key }

// PartialUtf8 matches a Utf8 value.
func PartialUtf8(s string) PartialValue { return PartialValue{key: s} }

// PartialIname matches an Iname value.
func PartialIname(s string) PartialValue { return PartialValue{key: strings.ToLower(s)} }

// PartialClass matches a Class value.
func PartialClass(s string) PartialValue { return PartialValue{key: strings.ToLower(s)} }

// PartialUUID matches a UUID value.
func PartialUUID(id uuid.UUID) PartialValue { return PartialValue{key: id.String()} }

// PartialRefer matches a Refer, Session or Oauth2Session value by uuid.
func PartialRefer(id uuid.UUID) PartialValue { return PartialValue{key: id.String()} }

// PartialFromValue derives the partial form of a full value.
func PartialFromValue(v Value) PartialValue { return PartialValue{key: v.Key()} }

type valueEnvelope struct {
	Type  Syntax          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalValue encodes v with its syntax discriminant.
func MarshalValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("marshal value: nil")
	}
	var payload any
	switch tv := v.(type) {
	case Utf8:
		payload = string(tv)
	case Iname:
		payload = string(tv)
	case Class:
		payload = string(tv)
	case UUIDValue:
		payload = uuid.UUID(tv).String()
	case Refer:
		payload = uuid.UUID(tv).String()
	case URL:
		payload = string(tv)
	case Bool:
		payload = bool(tv)
	case Uint32:
		payload = uint32(tv)
	case Session, Oauth2Session:
		payload = tv
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", v.Syntax(), err)
	}
	return json.Marshal(valueEnvelope{Type: v.Syntax(), Value: raw})
}

// UnmarshalValue decodes a value produced by MarshalValue.
func UnmarshalValue(data []byte) (Value, error) {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode value envelope: %w", err)
	}
	switch env.Type {
	case SyntaxUtf8, SyntaxIname, SyntaxClass, SyntaxURL:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", env.Type, err)
		}
		switch env.Type {
		case SyntaxUtf8:
			return Utf8(s), nil
		case SyntaxIname:
			return Iname(s), nil
		case SyntaxClass:
			return Class(s), nil
		default:
			return URL(s), nil
		}
	case SyntaxUUID, SyntaxRefer:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", env.Type, err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("decode %s value: %w", env.Type, err)
		}
		if env.Type == SyntaxUUID {
			return UUIDValue(id), nil
		}
		return Refer(id), nil
	case SyntaxBool:
		var b bool
		if err := json.Unmarshal(env.Value, &b); err != nil {
			return nil, fmt.Errorf("decode bool value: %w", err)
		}
		return Bool(b), nil
	case SyntaxUint32:
		var n uint32
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return nil, fmt.Errorf("decode uint32 value: %w", err)
		}
		return Uint32(n), nil
	case SyntaxSession:
		var s Session
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("decode session value: %w", err)
		}
		return s, nil
	case SyntaxOauth2Session:
		var s Oauth2Session
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return nil, fmt.Errorf("decode oauth2 session value: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown value syntax %q", env.Type)
	}
}
