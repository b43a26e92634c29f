package domain

import "context"

// RecordReadTxn is a snapshot view of the record store.
type RecordReadTxn interface {
	Search(ctx context.Context, f Filter) ([]Entry, error)
	Exists(ctx context.Context, f Filter) (bool, error)
}

// RecordWriteTxn is the exclusive write view of the record store. Abort
// after Commit, or a second Abort, is a no-op.
type RecordWriteTxn interface {
	RecordReadTxn
	// Create stores new entries. It fails on an empty batch, a missing
	// identifier or an identifier already in use.
	Create(ctx context.Context, entries []Entry) error
	// Modify replaces existing entries by identifier.
	Modify(ctx context.Context, entries []Entry) error
	Commit(ctx context.Context) error
	Abort()
}

// RecordStore is the durable, transactional storage the engine persists
// entries to. At most one write transaction is open at a time; reads see the
// last committed snapshot and never wait on a writer.
type RecordStore interface {
	Read(ctx context.Context) (RecordReadTxn, error)
	Write(ctx context.Context) (RecordWriteTxn, error)
}
