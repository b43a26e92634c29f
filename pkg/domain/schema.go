package domain

import "context"

// AttributeType describes one attribute known to schema.
type AttributeType struct {
	Name        string
	Description string
	Syntax      Syntax
	MultiValue  bool
	System      bool
}

// ClassType describes one class known to schema.
type ClassType struct {
	Name        string
	Description string
	SystemMay   []string
	SystemMust  []string
}

// SchemaReadView validates and normalises entries against a schema snapshot.
type SchemaReadView interface {
	ValidateEntry(e Entry) error
	NormaliseEntry(e Entry) Entry
	// ValidateFilter rejects filters that reference unknown attributes.
	ValidateFilter(f Filter) error
	IsMultivalue(attr string) bool
	Attribute(name string) (AttributeType, bool)
}

// SchemaWriteView is an exclusive, transactional view of schema.
type SchemaWriteView interface {
	SchemaReadView
	AddAttribute(a AttributeType) error
	AddClass(c ClassType) error
	// Validate checks the internal consistency of the pending schema.
	Validate() error
	Commit() error
	Abort()
}

// SchemaStore is the process-wide schema subsystem.
type SchemaStore interface {
	Read() SchemaReadView
	Write(ctx context.Context) (SchemaWriteView, error)
}
