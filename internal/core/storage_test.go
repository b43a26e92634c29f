package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	blobcore "idmcore/internal/blob/core"
	"idmcore/internal/config"
	"idmcore/internal/schema"
)

func TestOpenRecordStoreDrivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for _, cfg := range []config.StorageConfig{
		{Driver: config.StorageMemory},
		{Driver: config.StorageBolt, BoltPath: filepath.Join(dir, "idm.bolt")},
		{Driver: config.StorageSQLite, SQLitePath: filepath.Join(dir, "idm.db")},
	} {
		t.Run(string(cfg.Driver), func(t *testing.T) {
			store, err := OpenRecordStore(ctx, cfg, zaptest.NewLogger(t))
			if cfg.Driver == config.StorageSQLite && err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			require.NoError(t, err)
			defer func() { assert.NoError(t, store.Close()) }()

			s := NewServer(store, schema.NewStore())
			require.NoError(t, s.Initialise(ctx))
			assert.Equal(t, 1, countMatching(t, s, byUUID(UUIDAdmin)))
		})
	}

	_, err := OpenRecordStore(ctx, config.StorageConfig{Driver: "tape"}, nil)
	assert.Error(t, err)
}

func TestOpenBlobStoreDrivers(t *testing.T) {
	ctx := context.Background()
	mem, err := OpenBlobStore(ctx, config.BlobConfig{Driver: blobcore.DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, blobcore.DriverMemory, mem.Driver())

	fs, err := OpenBlobStore(ctx, config.BlobConfig{Driver: blobcore.DriverFilesystem, FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, blobcore.DriverFilesystem, fs.Driver())

	_, err = OpenBlobStore(ctx, config.BlobConfig{Driver: blobcore.DriverS3})
	assert.Error(t, err, "bucket required")

	_, err = OpenBlobStore(ctx, config.BlobConfig{Driver: "floppy"})
	assert.Error(t, err)
}
