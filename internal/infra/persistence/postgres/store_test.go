package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idmcore/pkg/domain"
)

func testEntry(id uuid.UUID, name string) domain.Entry {
	return domain.NewEntry(
		domain.A(domain.AttrClass, domain.NewClass(domain.ClassObject)),
		domain.A(domain.AttrUUID, domain.NewUUID(id)),
		domain.A(domain.AttrName, domain.NewIname(name)),
	)
}

func openMock(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(func() {
		restore()
		_ = db.Close()
	})
	return mock
}

func TestNewStoreEnsuresTableAndLoadsEntries(t *testing.T) {
	ctx := context.Background()
	mock := openMock(t)
	id := uuid.New()
	payload, err := json.Marshal(testEntry(id, "loaded"))
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT uuid, payload FROM entries").
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "payload"}).AddRow(id.String(), payload))

	store, err := NewStore(ctx, "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	rtx, err := store.Read(ctx)
	require.NoError(t, err)
	found, err := rtx.Exists(ctx, domain.Eq(domain.AttrName, domain.PartialIname("loaded")))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCommitUpsertsChangedEntries(t *testing.T) {
	ctx := context.Background()
	mock := openMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT uuid, payload FROM entries").WillReturnRows(sqlmock.NewRows([]string{"uuid", "payload"}))

	store, err := NewStore(ctx, "postgres://example/idm")
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").
		WithArgs(id.String(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	wtx, err := store.Write(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.Create(ctx, []domain.Entry{testEntry(id, "new")}))
	require.NoError(t, wtx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRollsBackOnUpsertFailure(t *testing.T) {
	ctx := context.Background()
	mock := openMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT uuid, payload FROM entries").WillReturnRows(sqlmock.NewRows([]string{"uuid", "payload"}))

	store, err := NewStore(ctx, "")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO entries").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	wtx, err := store.Write(ctx)
	require.NoError(t, err)
	require.NoError(t, wtx.Create(ctx, []domain.Entry{testEntry(uuid.New(), "lost")}))
	err = wtx.Commit(ctx)
	require.Error(t, err)
	assert.True(t, domain.ErrStore.Has(err))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Empty(t, store.ExportState(), "failed persist leaves the snapshot untouched")
}

func TestNewStoreSurfacesTableError(t *testing.T) {
	mock := openMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure entries table")
}

func TestNewStoreSurfacesOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("no driver") })
	defer restore()
	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open postgres")
}

func TestNewStoreRejectsCorruptPayload(t *testing.T) {
	mock := openMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entries").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT uuid, payload FROM entries").
		WillReturnRows(sqlmock.NewRows([]string{"uuid", "payload"}).AddRow(uuid.NewString(), []byte("{not json")))
	mock.ExpectClose()

	_, err := NewStore(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode entry")
}
