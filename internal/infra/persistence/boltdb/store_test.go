package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"idmcore/pkg/domain"
)

func TestBoltStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idm.bolt")
	log := zaptest.NewLogger(t)

	store, err := NewStore(log, path)
	require.NoError(t, err)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	wtx, err := store.Write(ctx)
	require.NoError(t, err)
	for i, id := range ids {
		require.NoError(t, wtx.Create(ctx, []domain.Entry{domain.NewEntry(
			domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
			domain.A(domain.AttrUUID, domain.NewUUID(id)),
			domain.A(domain.AttrVersion, domain.NewUint32(uint32(i+1))),
		)}))
	}
	require.NoError(t, wtx.Commit(ctx))
	require.NoError(t, store.Close())

	reopened, err := NewStore(log, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rtx, err := reopened.Read(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		found, err := rtx.Exists(ctx, domain.Eq(domain.AttrUUID, domain.PartialUUID(id)))
		require.NoError(t, err)
		assert.True(t, found, id.String())
	}
}

func TestBoltStoreOpenFailsOnDirectory(t *testing.T) {
	_, err := NewStore(nil, t.TempDir())
	require.Error(t, err)
	assert.True(t, Error.Has(err))
}

func TestBoltStoreManyCommitsAcrossPages(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "idm.bolt")
	log := zaptest.NewLogger(t)

	store, err := NewStore(log, path)
	require.NoError(t, err)

	const batches, perBatch = 8, 64
	var ids []uuid.UUID
	for b := 0; b < batches; b++ {
		wtx, err := store.Write(ctx)
		require.NoError(t, err)
		batch := make([]domain.Entry, 0, perBatch)
		for i := 0; i < perBatch; i++ {
			id := uuid.New()
			ids = append(ids, id)
			batch = append(batch, domain.NewEntry(
				domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
				domain.A(domain.AttrUUID, domain.NewUUID(id)),
				domain.A(domain.AttrDescription, domain.NewUtf8(id.String()+id.String())),
			))
		}
		require.NoError(t, wtx.Create(ctx, batch))
		require.NoError(t, wtx.Commit(ctx))
	}
	require.NoError(t, store.Close())

	reopened, err := NewStore(log, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rtx, err := reopened.Read(ctx)
	require.NoError(t, err)
	all, err := rtx.Search(ctx, domain.Pres(domain.AttrUUID))
	require.NoError(t, err)
	assert.Len(t, all, len(ids))
}
