package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/automap/internal/storage"
	"github.com/cory-johannsen/automap/internal/storage/storagetest"
)

func TestStore_Contract(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "automap.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storagetest.RunStoreContract(t, s)
}

func TestStore_InMemoryContract(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	storagetest.RunStoreContract(t, s)
}

func TestStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "automap.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, "zork::map", "payload"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	got, err := s.Load(ctx, "zork::map")
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
}

func TestStore_Prefixed(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := storage.Prefixed(s, "alice/")
	require.NoError(t, p.Save(ctx, "zork::map", "v"))

	got, err := s.Load(ctx, "alice/zork::map")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	_, err = s.Load(ctx, "zork::map")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.Same(t, storage.Store(s), storage.Prefixed(s, ""))
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "automap.db"))
	assert.Error(t, err)
}
