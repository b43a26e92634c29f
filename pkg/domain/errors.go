package domain

import (
	"errors"

	"github.com/zeebo/errs"
)

// Error classes returned by the core. Use Class.Has to test membership.
var (
	// ErrStore covers record storage I/O and constraint failures.
	ErrStore = errs.Class("store")
	// ErrSchema covers entry and filter validation against schema.
	ErrSchema = errs.Class("schema")
	// ErrFilterGeneration is returned when a filter cannot be built from an
	// entry's attributes.
	ErrFilterGeneration = errs.Class("filter generation")
	// ErrPlugin is returned when a pipeline hook rejects an operation.
	ErrPlugin = errs.Class("plugin")
	// ErrFatal marks conditions the process cannot recover from.
	ErrFatal = errs.Class("fatal")
)

// Sentinel causes wrapped by the classes above.
var (
	ErrEmptyRequest      = errors.New("empty request")
	ErrNoMatchingEntries = errors.New("no matching entries")
	ErrTransactionDone   = errors.New("transaction already finished")
	ErrDuplicate         = errors.New("entry already exists")
	ErrNotFound          = errors.New("entry not found")
)
