package domain

import "github.com/google/uuid"

// Identity is the principal on whose behalf an event runs. Access control is
// enforced outside the core; the identity is carried for auditing.
type Identity struct {
	Kind IdentityKind
	ID   uuid.UUID
}

// InternalIdentity is the privileged identity used by bootstrap and
// maintenance operations.
var InternalIdentity = Identity{Kind: IdentityInternal}

// UserIdentity builds a user identity.
func UserIdentity(id uuid.UUID) Identity { return Identity{Kind: IdentityUser, ID: id} }

// IsInternal reports whether the identity bypasses access control.
func (i Identity) IsInternal() bool { return i.Kind == IdentityInternal }

// String renders the identity for logs.
func (i Identity) String() string {
	if i.IsInternal() {
		return string(IdentityInternal)
	}
	return string(i.Kind) + ":" + i.ID.String()
}

// OperationKind names the operation an event requests.
type OperationKind string

// Operation kinds.
const (
	OpSearch OperationKind = "search"
	OpExists OperationKind = "exists"
	OpCreate OperationKind = "create"
	OpModify OperationKind = "modify"
)

// Event is an immutable, fully resolved operation request.
type Event interface {
	Operation() OperationKind
	Identity() Identity
}

// CreateEvent requests creation of entries.
type CreateEvent struct {
	Ident   Identity
	Entries []Entry
}

// SearchEvent requests entries matching a filter.
type SearchEvent struct {
	Ident  Identity
	Filter Filter
}

// ExistsEvent asks whether any entry matches a filter.
type ExistsEvent struct {
	Ident  Identity
	Filter Filter
}

// ModifyEvent requests a modify list be applied to matching entries.
type ModifyEvent struct {
	Ident   Identity
	Filter  Filter
	ModList ModifyList
}

// NewInternalCreate builds a create event under the internal identity.
func NewInternalCreate(entries []Entry) *CreateEvent {
	return &CreateEvent{Ident: InternalIdentity, Entries: entries}
}

// NewInternalSearch builds a search event under the internal identity.
func NewInternalSearch(f Filter) *SearchEvent {
	return &SearchEvent{Ident: InternalIdentity, Filter: f}
}

// NewInternalExists builds an exists event under the internal identity.
func NewInternalExists(f Filter) *ExistsEvent {
	return &ExistsEvent{Ident: InternalIdentity, Filter: f}
}

// NewInternalModify builds a modify event under the internal identity.
func NewInternalModify(f Filter, ml ModifyList) *ModifyEvent {
	return &ModifyEvent{Ident: InternalIdentity, Filter: f, ModList: ml}
}

func (e *CreateEvent) Operation() OperationKind { return OpCreate }
func (e *SearchEvent) Operation() OperationKind { return OpSearch }
func (e *ExistsEvent) Operation() OperationKind { return OpExists }
func (e *ModifyEvent) Operation() OperationKind { return OpModify }

func (e *CreateEvent) Identity() Identity { return e.Ident }
func (e *SearchEvent) Identity() Identity { return e.Ident }
func (e *ExistsEvent) Identity() Identity { return e.Ident }
func (e *ModifyEvent) Identity() Identity { return e.Ident }
