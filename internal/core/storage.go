package core

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	blobcore "idmcore/internal/blob/core"
	"idmcore/internal/config"
	blobfs "idmcore/internal/infra/blob/fs"
	blobmemory "idmcore/internal/infra/blob/memory"
	blobs3 "idmcore/internal/infra/blob/s3"
	"idmcore/internal/infra/persistence/boltdb"
	"idmcore/internal/infra/persistence/memory"
	"idmcore/internal/infra/persistence/postgres"
	"idmcore/internal/infra/persistence/sqlite"
	"idmcore/pkg/domain"
)

// RecordStore is a record store that may hold external resources.
type RecordStore interface {
	domain.RecordStore
	io.Closer
}

type memoryRecordStore struct {
	*memory.Store
}

func (memoryRecordStore) Close() error { return nil }

// OpenRecordStore selects a record store backend from cfg.
func OpenRecordStore(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (RecordStore, error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memoryRecordStore{memory.NewStore()}, nil
	case config.StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.StorageBolt:
		return boltdb.NewStore(log, cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// OpenBlobStore selects the backup target from cfg.
func OpenBlobStore(ctx context.Context, cfg config.BlobConfig) (blobcore.Store, error) {
	switch cfg.Driver {
	case blobcore.DriverMemory:
		return blobmemory.New(), nil
	case blobcore.DriverFilesystem:
		return blobfs.New(cfg.FSRoot)
	case blobcore.DriverS3:
		return blobs3.New(ctx, blobs3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
