package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patrol-beat-tracker/internal/models"
)

// exerciseLocationStore checks the behavior every LocationStore shares
func exerciseLocationStore(t *testing.T, store LocationStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)
	principal := "prs" + uuid.NewString()[:12]

	t.Run("Missing row", func(t *testing.T) {
		_, err := store.GetLocation(ctx, principal)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Insert then update keeps one row", func(t *testing.T) {
		require.NoError(t, store.UpsertLocation(ctx, models.LocationRecord{
			PersonnelID: principal, Latitude: 14.5995, Longitude: 120.9842, Accuracy: 5, UpdatedAt: base,
		}))
		first, err := store.GetLocation(ctx, principal)
		require.NoError(t, err)

		require.NoError(t, store.UpsertLocation(ctx, models.LocationRecord{
			PersonnelID: principal, Latitude: 14.6, Longitude: 120.985, Accuracy: 4, UpdatedAt: base.Add(5 * time.Second),
		}))
		got, err := store.GetLocation(ctx, principal)
		require.NoError(t, err)

		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, principal, got.PersonnelID)
		assert.InDelta(t, 14.6, got.Latitude, 1e-9)
		assert.InDelta(t, 120.985, got.Longitude, 1e-9)
		assert.InDelta(t, 4.0, got.Accuracy, 1e-9)
		assert.True(t, got.UpdatedAt.Equal(base.Add(5*time.Second)), "updated_at %v", got.UpdatedAt)
	})

	t.Run("Older write does not overwrite newer", func(t *testing.T) {
		require.NoError(t, store.UpsertLocation(ctx, models.LocationRecord{
			PersonnelID: principal, Latitude: 1, Longitude: 1, Accuracy: 1, UpdatedAt: base,
		}))
		got, err := store.GetLocation(ctx, principal)
		require.NoError(t, err)
		assert.InDelta(t, 14.6, got.Latitude, 1e-9)
	})

	t.Run("Concurrent first writes leave one row", func(t *testing.T) {
		other := "prs" + uuid.NewString()[:12]
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.UpsertLocation(ctx, models.LocationRecord{
					PersonnelID: other, Latitude: float64(i), Longitude: 0, Accuracy: 1,
					UpdatedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}(i)
		}
		wg.Wait()

		got, err := store.GetLocation(ctx, other)
		require.NoError(t, err)
		assert.InDelta(t, 7.0, got.Latitude, 1e-9, "newest sample wins")
		require.NoError(t, store.DeleteLocation(ctx, other))
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteLocation(ctx, principal))
		require.NoError(t, store.DeleteLocation(ctx, principal))
		_, err := store.GetLocation(ctx, principal)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryLocationStore(t *testing.T) {
	store := NewMemoryLocationStore()
	exerciseLocationStore(t, store)
	assert.Zero(t, store.Len())
}

func TestSQLiteLocationStore(t *testing.T) {
	store, err := OpenSQLiteLocationStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exerciseLocationStore(t, store)
}

func TestSQLiteLocationStoreSingleRow(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLiteLocationStore(ctx, t.TempDir()+"/data/locations.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.UpsertLocation(ctx, models.LocationRecord{
			PersonnelID: "p-1", Latitude: 14.5995, Longitude: 120.9842, Accuracy: 5,
			UpdatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	n, err := store.Count(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisLocationStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	store, err := NewRedisLocationStore(context.Background(), RedisConfig{
		Addr:   addr,
		Prefix: "patrol:test:" + uuid.NewString()[:8] + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exerciseLocationStore(t, store)
}
