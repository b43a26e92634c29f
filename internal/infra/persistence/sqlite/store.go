// Package sqlite provides a SQLite-backed record store. Transactions run in
// the in-memory store; entries changed by a commit are upserted into a single
// table as JSON documents before the new snapshot is published.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"idmcore/internal/infra/persistence/memory"
	"idmcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

const (
	defaultPath = "idmcore.db"
	entryTable  = "entries"
)

// Store persists entries to SQLite while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory state from it.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps writes ordered and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entries (
		uuid TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entries table: %w", err)
	}
	entries, err := load(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(memory.WithPersister(&persister{db: db}))
	if err := mem.ImportState(entries); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: mem, db: db, path: path}, nil
}

func load(ctx context.Context, db *sql.DB) ([]domain.Entry, error) {
	query, args, err := sq.Select("uuid", "payload").From(entryTable).OrderBy("uuid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
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

// Persist upserts the changed entries in one SQLite transaction.
func (p *persister) Persist(ctx context.Context, changed []domain.Entry) (retErr error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, e := range changed {
		id, _ := e.ID()
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", id, err)
		}
		query, args, err := sq.Insert(entryTable).
			Columns("uuid", "payload").
			Values(id.String(), payload).
			Suffix("ON CONFLICT(uuid) DO UPDATE SET payload=excluded.payload").
			ToSql()
		if err != nil {
			return fmt.Errorf("build upsert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
