package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idmcore/pkg/domain"
)

// searcher implements the read operations shared by both transaction kinds.
type searcher struct {
	server  *Server
	records domain.RecordReadTxn
	schema  domain.SchemaReadView
}

// Search returns entries matching ev.Filter. The filter must only name
// attributes known to schema; names are matched in any case.
func (r *searcher) Search(ctx context.Context, ev *domain.SearchEvent) (entries []domain.Entry, err error) {
	start := time.Now()
	defer func() { r.server.observe(ctx, "search", start, err) }()

	f := ev.Filter.Canonical()
	if err := r.schema.ValidateFilter(f); err != nil {
		return nil, err
	}
	entries, err = r.records.Search(ctx, f)
	if err != nil {
		return nil, storeErr(err)
	}
	r.server.logger.Debug("search", "identity", ev.Ident.String(), "filter", f.String(), "results", len(entries))
	return entries, nil
}

// Exists reports whether any entry matches ev.Filter.
func (r *searcher) Exists(ctx context.Context, ev *domain.ExistsEvent) (found bool, err error) {
	start := time.Now()
	defer func() { r.server.observe(ctx, "exists", start, err) }()

	f := ev.Filter.Canonical()
	if err := r.schema.ValidateFilter(f); err != nil {
		return false, err
	}
	found, err = r.records.Exists(ctx, f)
	if err != nil {
		return false, storeErr(err)
	}
	return found, nil
}

// InternalSearch searches under the internal identity.
func (r *searcher) InternalSearch(ctx context.Context, f domain.Filter) ([]domain.Entry, error) {
	return r.Search(ctx, domain.NewInternalSearch(f))
}

// InternalExists checks existence under the internal identity.
func (r *searcher) InternalExists(ctx context.Context, f domain.Filter) (bool, error) {
	return r.Exists(ctx, domain.NewInternalExists(f))
}

// InternalSearchUUID returns the entry with identifier id.
func (r *searcher) InternalSearchUUID(ctx context.Context, id uuid.UUID) (domain.Entry, error) {
	entries, err := r.InternalSearch(ctx, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
	if err != nil {
		return domain.Entry{}, err
	}
	if len(entries) == 0 {
		return domain.Entry{}, domain.ErrStore.Wrap(fmt.Errorf("%w: %s", domain.ErrNoMatchingEntries, id))
	}
	return entries[0], nil
}

// ReadTransaction is a consistent snapshot of records and schema. It never
// blocks writers and needs no cleanup.
type ReadTransaction struct {
	searcher
}

// WriteTransaction is the exclusive writer. All of its operations observe its
// own uncommitted changes. Any failed create or modify aborts it.
type WriteTransaction struct {
	searcher
	records   domain.RecordWriteTxn
	schema    domain.SchemaWriteView
	now       time.Time
	touched   map[uuid.UUID]struct{}
	done      bool
	committed bool
}

func newWriteTransaction(s *Server, records domain.RecordWriteTxn, schema domain.SchemaWriteView, now time.Time) *WriteTransaction {
	return &WriteTransaction{
		searcher: searcher{server: s, records: records, schema: schema},
		records:  records,
		schema:   schema,
		now:      now,
		touched:  make(map[uuid.UUID]struct{}),
	}
}

// CurrentTime is the time fixed when the transaction began.
func (t *WriteTransaction) CurrentTime() time.Time { return t.now }

// Schema exposes the transaction's schema view, for example to extend schema
// alongside the records that need it.
func (t *WriteTransaction) Schema() domain.SchemaWriteView { return t.schema }

func (t *WriteTransaction) active() error {
	if t.done {
		return domain.ErrStore.Wrap(domain.ErrTransactionDone)
	}
	return nil
}

// fail aborts the transaction and returns err.
func (t *WriteTransaction) fail(err error) error {
	t.Abort()
	return err
}

// Create runs candidates through the pre-create hooks, validates them and
// stores them.
func (t *WriteTransaction) Create(ctx context.Context, ev *domain.CreateEvent) (err error) {
	start := time.Now()
	defer func() { t.server.observe(ctx, "create", start, err) }()

	if err := t.active(); err != nil {
		return err
	}
	if len(ev.Entries) == 0 {
		return t.fail(domain.ErrStore.Wrap(domain.ErrEmptyRequest))
	}
	candidates := make([]*domain.Entry, len(ev.Entries))
	for i, e := range ev.Entries {
		c := e.Canonical()
		candidates[i] = &c
	}
	if err := t.server.pipeline.RunPreCreate(ctx, pluginView{t}, candidates, ev); err != nil {
		return t.fail(err)
	}
	entries, err := t.seal(candidates)
	if err != nil {
		return t.fail(err)
	}
	if err := t.records.Create(ctx, entries); err != nil {
		return t.fail(storeErr(err))
	}
	t.touch(entries)
	t.server.logger.Info("entries created", "identity", ev.Ident.String(), "count", len(entries))
	return nil
}

// Modify applies ev.ModList to every entry matching ev.Filter. Matching no
// entries is an error.
func (t *WriteTransaction) Modify(ctx context.Context, ev *domain.ModifyEvent) (err error) {
	start := time.Now()
	defer func() { t.server.observe(ctx, "modify", start, err) }()

	if err := t.active(); err != nil {
		return err
	}
	if len(ev.ModList) == 0 {
		return t.fail(domain.ErrStore.Wrap(domain.ErrEmptyRequest))
	}
	ev = &domain.ModifyEvent{Ident: ev.Ident, Filter: ev.Filter.Canonical(), ModList: ev.ModList.Canonical()}
	if err := t.schema.ValidateFilter(ev.Filter); err != nil {
		return t.fail(err)
	}
	pre, err := t.records.Search(ctx, ev.Filter)
	if err != nil {
		return t.fail(storeErr(err))
	}
	if len(pre) == 0 {
		return t.fail(domain.ErrStore.Wrap(fmt.Errorf("%w: %s", domain.ErrNoMatchingEntries, ev.Filter)))
	}
	candidates := make([]*domain.Entry, len(pre))
	for i, e := range pre {
		c := e.Clone()
		if err := c.ApplyModifyList(ev.ModList); err != nil {
			return t.fail(domain.ErrStore.Wrap(err))
		}
		candidates[i] = &c
	}
	if err := t.server.pipeline.RunPreModify(ctx, pluginView{t}, candidates, ev); err != nil {
		return t.fail(err)
	}
	entries, err := t.seal(candidates)
	if err != nil {
		return t.fail(err)
	}
	if err := t.records.Modify(ctx, entries); err != nil {
		return t.fail(storeErr(err))
	}
	t.touch(entries)
	t.server.logger.Info("entries modified", "identity", ev.Ident.String(), "filter", ev.Filter.String(), "count", len(entries))
	return nil
}

// seal normalises candidates and validates them against the schema view.
func (t *WriteTransaction) seal(candidates []*domain.Entry) ([]domain.Entry, error) {
	out := make([]domain.Entry, 0, len(candidates))
	for _, c := range candidates {
		e := t.schema.NormaliseEntry(*c)
		if err := t.schema.ValidateEntry(e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *WriteTransaction) touch(entries []domain.Entry) {
	for _, e := range entries {
		if id, ok := e.ID(); ok {
			t.touched[id] = struct{}{}
		}
	}
}

// InternalCreate creates entries under the internal identity.
func (t *WriteTransaction) InternalCreate(ctx context.Context, entries []domain.Entry) error {
	return t.Create(ctx, domain.NewInternalCreate(entries))
}

// InternalModify modifies entries under the internal identity.
func (t *WriteTransaction) InternalModify(ctx context.Context, f domain.Filter, ml domain.ModifyList) error {
	return t.Modify(ctx, domain.NewInternalModify(f, ml))
}

// Commit validates every entry touched by the transaction against the final
// schema, then commits records followed by schema. A schema commit failure
// after records were committed is passed to the fatal handler; if the handler
// returns, the schema view is released so later writers are not blocked.
// Committing twice panics.
func (t *WriteTransaction) Commit(ctx context.Context) (err error) {
	if t.committed {
		panic("core: write transaction committed twice")
	}
	if err := t.active(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { t.server.observe(ctx, "commit", start, err) }()
	t.committed = true

	if err := t.revalidate(ctx); err != nil {
		return t.fail(err)
	}
	if err := t.schema.Validate(); err != nil {
		return t.fail(err)
	}
	if err := t.records.Commit(ctx); err != nil {
		return t.fail(storeErr(err))
	}
	t.done = true
	if err := t.schema.Commit(); err != nil {
		fatal := domain.ErrFatal.Wrap(fmt.Errorf("schema commit after record commit: %w", err))
		t.server.logger.Error("commit failed after records were persisted", "error", err)
		t.server.fatal(fatal)
		t.schema.Abort()
		return fatal
	}
	t.server.logger.Debug("write transaction committed", "entries", len(t.touched))
	return nil
}

func (t *WriteTransaction) revalidate(ctx context.Context) error {
	for id := range t.touched {
		entries, err := t.records.Search(ctx, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
		if err != nil {
			return storeErr(err)
		}
		for _, e := range entries {
			if err := t.schema.ValidateEntry(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Abort discards the transaction. It is safe to call more than once and
// after Commit.
func (t *WriteTransaction) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.records.Abort()
	t.schema.Abort()
	t.server.logger.Debug("write transaction aborted")
}

// pluginView gives hooks access to the transaction's uncommitted state.
type pluginView struct {
	txn *WriteTransaction
}

func (v pluginView) CurrentTime() time.Time { return v.txn.now }

func (v pluginView) Search(ctx context.Context, f domain.Filter) ([]domain.Entry, error) {
	return v.txn.records.Search(ctx, f.Canonical())
}

func (v pluginView) Exists(ctx context.Context, f domain.Filter) (bool, error) {
	return v.txn.records.Exists(ctx, f.Canonical())
}

var _ domain.PluginView = pluginView{}
