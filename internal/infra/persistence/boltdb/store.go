// Package boltdb provides an embedded BoltDB record store. Entries live in a
// single bucket keyed by uuid and are rewritten by every commit that touches
// them.
package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/errs"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"idmcore/internal/infra/persistence/memory"
	"idmcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

// Error is the class of bolt backend failures.
var Error = errs.Class("boltdb")

var (
	defaultTimeout = 1 * time.Second
	entryBucket    = []byte("entries")
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0o600
)

// Store persists entries to a Bolt database file.
type Store struct {
	*memory.Store
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

// NewStore opens the database at path and hydrates the in-memory state.
func NewStore(log *zap.Logger, path string) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entryBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, Error.New("create bucket: %v", err)
	}

	var entries []domain.Entry
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entryBucket).ForEach(func(key, value []byte) error {
			var e domain.Entry
			if err := json.Unmarshal(value, &e); err != nil {
				return fmt.Errorf("decode entry %s: %w", key, err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		_ = db.Close()
		return nil, Error.Wrap(err)
	}

	s := &Store{log: log, db: db, Path: path}
	s.Store = memory.NewStore(memory.WithPersister(s))
	if err := s.ImportState(entries); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("bolt record store opened", zap.String("path", path), zap.Int("entries", len(entries)))
	return s, nil
}

// Persist writes the changed entries in a single bolt update.
func (s *Store) Persist(_ context.Context, changed []domain.Entry) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(entryBucket)
		for _, e := range changed {
			id, _ := e.ID()
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode entry %s: %w", id, err)
			}
			if err := b.Put([]byte(id.String()), payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Error.Wrap(err)
	}
	s.log.Debug("persisted entries", zap.Int("count", len(changed)))
	return nil
}

// Close closes the bolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
