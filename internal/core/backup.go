package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	blobcore "idmcore/internal/blob/core"
	"idmcore/pkg/domain"
)

// BackupPrefix is the blob key prefix backups are written under.
const BackupPrefix = "backups/"

const archiveVersion = 1

// Archive is the serialised form of a backup.
type Archive struct {
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Entries   []domain.Entry `json:"entries"`
}

// BackupKey names the backup taken at t. Keys sort chronologically.
func BackupKey(t time.Time) string {
	return BackupPrefix + t.UTC().Format("20060102T150405.000000000Z") + ".json"
}

// Backup writes every entry of the latest committed snapshot to store.
func (s *Server) Backup(ctx context.Context, store blobcore.Store) (info blobcore.Info, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "backup", start, err) }()

	txn, err := s.Read(ctx)
	if err != nil {
		return blobcore.Info{}, err
	}
	entries, err := txn.InternalSearch(ctx, domain.Pres(domain.AttrUUID))
	if err != nil {
		return blobcore.Info{}, err
	}
	domain.SortEntries(entries)
	now := s.clock.Now()
	data, err := json.Marshal(Archive{Version: archiveVersion, CreatedAt: now.UTC(), Entries: entries})
	if err != nil {
		return blobcore.Info{}, fmt.Errorf("encode backup: %w", err)
	}
	info, err = store.Put(ctx, BackupKey(now), bytes.NewReader(data), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entries": strconv.Itoa(len(entries))},
	})
	if err != nil {
		return blobcore.Info{}, err
	}
	s.logger.Info("backup written", "key", info.Key, "entries", len(entries), "driver", string(store.Driver()))
	return info, nil
}

// Restore loads the backup stored under key into an empty record store.
// Entries pass through the create pipeline in a single transaction.
func (s *Server) Restore(ctx context.Context, store blobcore.Store, key string) (n int, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "restore", start, err) }()

	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()
	var archive Archive
	if err := json.NewDecoder(rc).Decode(&archive); err != nil {
		return 0, fmt.Errorf("decode backup %s: %w", key, err)
	}
	if archive.Version != archiveVersion {
		return 0, fmt.Errorf("backup %s: unsupported version %d", key, archive.Version)
	}

	txn, err := s.Write(ctx)
	if err != nil {
		return 0, err
	}
	occupied, err := txn.InternalExists(ctx, domain.Pres(domain.AttrUUID))
	if err != nil {
		txn.Abort()
		return 0, err
	}
	if occupied {
		txn.Abort()
		return 0, domain.ErrStore.New("restore target already holds entries")
	}
	if len(archive.Entries) == 0 {
		txn.Abort()
		return 0, nil
	}
	if err := txn.InternalCreate(ctx, archive.Entries); err != nil {
		return 0, err
	}
	if err := txn.Commit(ctx); err != nil {
		return 0, err
	}
	s.logger.Info("backup restored", "key", key, "entries", len(archive.Entries))
	return len(archive.Entries), nil
}

// LatestBackup returns the most recent backup in store.
func LatestBackup(ctx context.Context, store blobcore.Store) (blobcore.Info, error) {
	list, err := store.List(ctx, BackupPrefix)
	if err != nil {
		return blobcore.Info{}, err
	}
	if len(list) == 0 {
		return blobcore.Info{}, blobcore.Error.Wrap(fmt.Errorf("%w: no backups", blobcore.ErrNotFound))
	}
	return list[len(list)-1], nil
}

// PruneBackups deletes all but the newest keep backups and returns the keys
// it removed. keep <= 0 removes nothing.
func PruneBackups(ctx context.Context, store blobcore.Store, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	list, err := store.List(ctx, BackupPrefix)
	if err != nil {
		return nil, err
	}
	if len(list) <= keep {
		return nil, nil
	}
	var removed []string
	for _, info := range list[:len(list)-keep] {
		if _, err := store.Delete(ctx, info.Key); err != nil {
			return removed, err
		}
		removed = append(removed, info.Key)
	}
	return removed, nil
}
