package fs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idmcore/internal/blob/core"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	assert.Equal(t, core.DriverFilesystem, s.Driver())

	info, err := s.Put(ctx, "backups/2026/one.json", strings.NewReader(`{"entries":[]}`), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"entries": "0"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 14, info.Size)
	assert.Len(t, info.ETag, 64)

	_, err = s.Put(ctx, "backups/2026/one.json", strings.NewReader("x"), core.PutOptions{})
	assert.True(t, errors.Is(err, core.ErrExists))

	got, rc, err := s.Get(ctx, "backups/2026/one.json")
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"entries":[]}`, string(body))
	assert.Equal(t, "application/json", got.ContentType)
	assert.Equal(t, "0", got.Metadata["entries"])

	_, err = s.Put(ctx, "backups/2026/two.json", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)
	_, err = s.Put(ctx, "scratch/three", strings.NewReader("{}"), core.PutOptions{})
	require.NoError(t, err)

	list, err := s.List(ctx, "backups/")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "backups/2026/one.json", list[0].Key)
	assert.Equal(t, "backups/2026/two.json", list[1].Key)

	existed, err := s.Delete(ctx, "backups/2026/one.json")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = s.Delete(ctx, "backups/2026/one.json")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = s.Head(ctx, "backups/2026/one.json")
	assert.True(t, errors.Is(err, core.ErrNotFound))
}

func TestFilesystemStoreRejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "  ", "/etc/passwd", "../escape", "a/../../b", "x.meta"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{})
		assert.Error(t, err, key)
		assert.True(t, core.Error.Has(err), key)
	}
}
