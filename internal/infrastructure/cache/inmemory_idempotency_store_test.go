package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_Reserve(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	t.Run("claims a new key", func(t *testing.T) {
		claimed, err := store.Reserve(ctx, "usage:key-1", 1*time.Hour)
		require.NoError(t, err)
		assert.True(t, claimed, "new key should be claimed")
	})

	t.Run("returns false for an already claimed key", func(t *testing.T) {
		claimed, err := store.Reserve(ctx, "usage:key-2", 1*time.Hour)
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = store.Reserve(ctx, "usage:key-2", 1*time.Hour)
		require.NoError(t, err)
		assert.False(t, claimed, "held key should not be claimed again")
	})

	t.Run("allows reclaiming after expiration", func(t *testing.T) {
		claimed, err := store.Reserve(ctx, "usage:key-3", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, claimed)

		time.Sleep(20 * time.Millisecond)

		claimed, err = store.Reserve(ctx, "usage:key-3", 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, claimed, "expired key should be claimable")
	})
}

func TestInMemoryIdempotencyStore_Release(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	claimed, err := store.Reserve(ctx, "usage:failed-write", 1*time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	// Release after a failed write, same request retries with the same key
	require.NoError(t, store.Release(ctx, "usage:failed-write"))

	claimed, err = store.Reserve(ctx, "usage:failed-write", 1*time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "released key should be claimable again")
}

func TestInMemoryIdempotencyStore_Size(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	assert.Equal(t, 0, store.Size(), "empty store should have size 0")

	store.Reserve(ctx, "key-1", 1*time.Hour)
	assert.Equal(t, 1, store.Size())

	store.Reserve(ctx, "key-2", 1*time.Hour)
	assert.Equal(t, 2, store.Size())

	// Re-reserving the same key shouldn't increase size
	store.Reserve(ctx, "key-1", 1*time.Hour)
	assert.Equal(t, 2, store.Size())

	store.Release(ctx, "key-2")
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()

	store.Reserve(ctx, "short-lived-1", 10*time.Millisecond)
	store.Reserve(ctx, "short-lived-2", 10*time.Millisecond)
	store.Reserve(ctx, "long-lived", 1*time.Hour)

	assert.Equal(t, 3, store.Size())

	time.Sleep(20 * time.Millisecond)

	// Manually trigger cleanup
	store.cleanup()

	assert.Equal(t, 1, store.Size())

	claimed, err := store.Reserve(ctx, "long-lived", 1*time.Hour)
	require.NoError(t, err)
	assert.False(t, claimed, "long-lived key should still be held")

	claimed, err = store.Reserve(ctx, "short-lived-1", 1*time.Hour)
	require.NoError(t, err)
	assert.True(t, claimed, "expired key should be claimable")
}

func TestInMemoryIdempotencyStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryIdempotencyStore()
	defer store.Close()

	ctx := context.Background()
	const numGoroutines = 100
	const key = "usage:concurrent-key"

	results := make(chan bool, numGoroutines)

	// Launch concurrent goroutines trying to claim the same key
	for i := 0; i < numGoroutines; i++ {
		go func() {
			claimed, err := store.Reserve(ctx, key, 1*time.Hour)
			if err != nil {
				results <- false
			} else {
				results <- claimed
			}
		}()
	}

	claimedCount := 0
	duplicateCount := 0
	for i := 0; i < numGoroutines; i++ {
		if <-results {
			claimedCount++
		} else {
			duplicateCount++
		}
	}

	// Exactly one goroutine should have claimed the key
	assert.Equal(t, 1, claimedCount, "exactly one goroutine should claim the key")
	assert.Equal(t, numGoroutines-1, duplicateCount, "all others should be rejected")
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore()

	err := store.Close()
	assert.NoError(t, err)

	// Multiple closes should be safe
	err = store.Close()
	assert.NoError(t, err)
}
