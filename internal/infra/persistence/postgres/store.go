// Package postgres provides a Postgres-backed record store that mirrors the
// in-memory semantics and upserts changed entries as JSONB documents.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"idmcore/internal/infra/persistence/memory"
	"idmcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/idmcore?sslmode=disable"
	entryTable    = "entries"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store persists entries to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to
// defaultDSN), ensures the entries table exists and hydrates the in-memory
// store from it.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureEntryTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	entries, err := loadEntries(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(memory.WithPersister(&persister{db: db}))
	if err := mem.ImportState(entries); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: mem, db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureEntryTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS entries (
		uuid UUID PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure entries table: %w", err)
	}
	return nil
}

func loadEntries(ctx context.Context, db *sql.DB) ([]domain.Entry, error) {
	query, args, err := psq.Select("uuid", "payload").From(entryTable).OrderBy("uuid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building entries query: %w", err)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Entry
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var e domain.Entry
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

type persister struct {
	db *sql.DB
}

func (p *persister) Persist(ctx context.Context, changed []domain.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, e := range changed {
		id, _ := e.ID()
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", id, err)
		}
		query, args, err := psq.Insert(entryTable).
			Columns("uuid", "payload").
			Values(id.String(), payload).
			Suffix("ON CONFLICT (uuid) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()").
			ToSql()
		if err != nil {
			return fmt.Errorf("building upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
