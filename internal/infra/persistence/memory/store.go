// Package memory provides the in-memory record store. It is used directly for
// tests and ephemeral environments and as the transactional layer underneath
// the durable backends, which hook in through a Persister.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"idmcore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.RecordStore    = (*Store)(nil)
	_ domain.RecordWriteTxn = (*writeTxn)(nil)
)

// Persister writes the entries changed by a transaction to durable storage.
// It runs while the write lock is held and before the new snapshot is
// published; an error aborts the transaction.
type Persister interface {
	Persist(ctx context.Context, changed []domain.Entry) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches a durable persister.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

type memoryState struct {
	entries map[uuid.UUID]domain.Entry
}

func newMemoryState() *memoryState {
	return &memoryState{entries: make(map[uuid.UUID]domain.Entry)}
}

// Store keeps committed entries in an immutable snapshot swapped atomically
// on commit. Writers are serialised by a single-slot semaphore.
type Store struct {
	writer    *semaphore.Weighted
	state     atomic.Pointer[memoryState]
	persister Persister
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{writer: semaphore.NewWeighted(1)}
	s.state.Store(newMemoryState())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ImportState replaces the committed state with entries. Intended for
// hydrating from durable storage before the store is shared.
func (s *Store) ImportState(entries []domain.Entry) error {
	next := newMemoryState()
	for _, e := range entries {
		id, ok := e.ID()
		if !ok {
			return domain.ErrStore.New("import: entry without identifier")
		}
		next.entries[id] = e.Clone()
	}
	s.state.Store(next)
	return nil
}

// ExportState returns a copy of every committed entry ordered by identifier.
func (s *Store) ExportState() []domain.Entry {
	return s.state.Load().list(domain.Pres(domain.AttrUUID))
}

func (st *memoryState) list(f domain.Filter) []domain.Entry {
	out := make([]domain.Entry, 0)
	for _, e := range st.entries {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
	}
	domain.SortEntries(out)
	return out
}

// Read opens a snapshot of the last committed state.
func (s *Store) Read(ctx context.Context) (domain.RecordReadTxn, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrStore.Wrap(err)
	}
	return &readTxn{state: s.state.Load()}, nil
}

// Write opens the exclusive write transaction, waiting for any current
// writer to finish or ctx to end.
func (s *Store) Write(ctx context.Context) (domain.RecordWriteTxn, error) {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrStore.Wrap(fmt.Errorf("acquire write lock: %w", err))
	}
	return &writeTxn{
		store: s,
		base:  s.state.Load(),
		dirty: make(map[uuid.UUID]domain.Entry),
	}, nil
}

type readTxn struct {
	state *memoryState
}

func (t *readTxn) Search(ctx context.Context, f domain.Filter) ([]domain.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrStore.Wrap(err)
	}
	return t.state.list(f), nil
}

func (t *readTxn) Exists(ctx context.Context, f domain.Filter) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.ErrStore.Wrap(err)
	}
	for _, e := range t.state.entries {
		if f.Matches(e) {
			return true, nil
		}
	}
	return false, nil
}

// writeTxn overlays pending writes on the snapshot it started from.
type writeTxn struct {
	store *Store
	base  *memoryState
	dirty map[uuid.UUID]domain.Entry
	done  bool
}

func (t *writeTxn) lookup(id uuid.UUID) (domain.Entry, bool) {
	if e, ok := t.dirty[id]; ok {
		return e, true
	}
	e, ok := t.base.entries[id]
	return e, ok
}

func (t *writeTxn) each(fn func(domain.Entry) bool) {
	for id, e := range t.base.entries {
		if d, ok := t.dirty[id]; ok {
			e = d
		}
		if !fn(e) {
			return
		}
	}
	for id, e := range t.dirty {
		if _, ok := t.base.entries[id]; ok {
			continue
		}
		if !fn(e) {
			return
		}
	}
}

func (t *writeTxn) Search(ctx context.Context, f domain.Filter) ([]domain.Entry, error) {
	if t.done {
		return nil, domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrStore.Wrap(err)
	}
	out := make([]domain.Entry, 0)
	t.each(func(e domain.Entry) bool {
		if f.Matches(e) {
			out = append(out, e.Clone())
		}
		return true
	})
	domain.SortEntries(out)
	return out, nil
}

func (t *writeTxn) Exists(ctx context.Context, f domain.Filter) (bool, error) {
	if t.done {
		return false, domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	if err := ctx.Err(); err != nil {
		return false, domain.ErrStore.Wrap(err)
	}
	found := false
	t.each(func(e domain.Entry) bool {
		found = f.Matches(e)
		return !found
	})
	return found, nil
}

func (t *writeTxn) Create(_ context.Context, entries []domain.Entry) error {
	if t.done {
		return domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	if len(entries) == 0 {
		return domain.ErrStore.Wrap(domain.ErrEmptyRequest)
	}
	batch := make(map[uuid.UUID]struct{}, len(entries))
	for _, e := range entries {
		id, ok := e.ID()
		if !ok {
			return domain.ErrStore.New("create: entry without identifier")
		}
		if _, exists := t.lookup(id); exists {
			return domain.ErrStore.Wrap(fmt.Errorf("%w: %s", domain.ErrDuplicate, id))
		}
		if _, exists := batch[id]; exists {
			return domain.ErrStore.Wrap(fmt.Errorf("%w: %s repeated in batch", domain.ErrDuplicate, id))
		}
		batch[id] = struct{}{}
	}
	for _, e := range entries {
		id, _ := e.ID()
		t.dirty[id] = e.Clone()
	}
	return nil
}

func (t *writeTxn) Modify(_ context.Context, entries []domain.Entry) error {
	if t.done {
		return domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	if len(entries) == 0 {
		return domain.ErrStore.Wrap(domain.ErrEmptyRequest)
	}
	for _, e := range entries {
		id, ok := e.ID()
		if !ok {
			return domain.ErrStore.New("modify: entry without identifier")
		}
		if _, exists := t.lookup(id); !exists {
			return domain.ErrStore.Wrap(fmt.Errorf("%w: %s", domain.ErrNotFound, id))
		}
	}
	for _, e := range entries {
		id, _ := e.ID()
		t.dirty[id] = e.Clone()
	}
	return nil
}

// Commit persists the changed entries, when a persister is configured, and
// publishes the new snapshot.
func (t *writeTxn) Commit(ctx context.Context) error {
	if t.done {
		return domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	defer t.release()

	if len(t.dirty) == 0 {
		return nil
	}
	changed := make([]domain.Entry, 0, len(t.dirty))
	for _, e := range t.dirty {
		changed = append(changed, e.Clone())
	}
	domain.SortEntries(changed)
	if t.store.persister != nil {
		if err := t.store.persister.Persist(ctx, changed); err != nil {
			return domain.ErrStore.Wrap(fmt.Errorf("persist: %w", err))
		}
	}

	next := &memoryState{entries: make(map[uuid.UUID]domain.Entry, len(t.base.entries)+len(t.dirty))}
	for id, e := range t.base.entries {
		next.entries[id] = e
	}
	for id, e := range t.dirty {
		next.entries[id] = e
	}
	t.store.state.Store(next)
	return nil
}

// Abort discards pending writes. Calling it after Commit is a no-op.
func (t *writeTxn) Abort() {
	if t.done {
		return
	}
	t.release()
}

func (t *writeTxn) release() {
	t.done = true
	t.dirty = nil
	t.store.writer.Release(1)
}
