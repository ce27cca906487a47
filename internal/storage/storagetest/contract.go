// Package storagetest provides a behavioural contract shared by every
// storage.Store implementation.
package storagetest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/automap/internal/storage"
)

// RunStoreContract exercises s against the storage.Store contract. s must
// start empty for the keys used here.
func RunStoreContract(t *testing.T, s storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("ping", func(t *testing.T) {
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("load missing", func(t *testing.T) {
		_, err := s.Load(ctx, "contract-missing::map")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("save then load", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "contract-a::map", "first"))
		got, err := s.Load(ctx, "contract-a::map")
		require.NoError(t, err)
		assert.Equal(t, "first", got)
	})

	t.Run("save replaces", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "contract-b::map", "old"))
		require.NoError(t, s.Save(ctx, "contract-b::map", "new"))
		got, err := s.Load(ctx, "contract-b::map")
		require.NoError(t, err)
		assert.Equal(t, "new", got)
	})

	t.Run("keys are independent", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "contract-c::map", "c"))
		require.NoError(t, s.Save(ctx, "contract-d::map", "d"))
		c, err := s.Load(ctx, "contract-c::map")
		require.NoError(t, err)
		d, err := s.Load(ctx, "contract-d::map")
		require.NoError(t, err)
		assert.Equal(t, "c", c)
		assert.Equal(t, "d", d)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Save(ctx, "contract-e::map", "e"))
		require.NoError(t, s.Delete(ctx, "contract-e::map"))
		_, err := s.Load(ctx, "contract-e::map")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.NoError(t, s.Delete(ctx, "contract-e::map"), "deleting twice")
	})

	t.Run("large value", func(t *testing.T) {
		big := strings.Repeat("Zm9v", 64<<10)
		require.NoError(t, s.Save(ctx, "contract-f::map", big))
		got, err := s.Load(ctx, "contract-f::map")
		require.NoError(t, err)
		assert.Equal(t, big, got)
	})
}
