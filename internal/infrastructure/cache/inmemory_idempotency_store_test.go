package cache

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	clk := clock.NewMock()
	store := NewInMemoryIdempotencyStore(clk)
	defer store.Close()

	ctx := context.Background()

	t.Run("marks new notification as processed", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "pay-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)
	})

	t.Run("returns false for already processed notification", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "pay-2", time.Hour)
		require.NoError(t, err)
		assert.True(t, isNew)

		isNew, err = store.MarkProcessed(ctx, "pay-2", time.Hour)
		require.NoError(t, err)
		assert.False(t, isNew, "already processed notification should return false")
	})

	t.Run("allows reprocessing after expiration", func(t *testing.T) {
		isNew, err := store.MarkProcessed(ctx, "pay-3", time.Second)
		require.NoError(t, err)
		assert.True(t, isNew)

		clk.Add(2 * time.Second)

		isNew, err = store.MarkProcessed(ctx, "pay-3", time.Second)
		require.NoError(t, err)
		assert.True(t, isNew, "expired notification should be reprocessable")
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	clk := clock.NewMock()
	store := NewInMemoryIdempotencyStore(clk)
	defer store.Close()

	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "pay-1", time.Minute)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, processed)

	clk.Add(2 * time.Minute)
	processed, err = store.IsProcessed(ctx, "pay-1")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_Cleanup(t *testing.T) {
	clk := clock.NewMock()
	store := NewInMemoryIdempotencyStore(clk)
	defer store.Close()

	ctx := context.Background()
	_, _ = store.MarkProcessed(ctx, "short", time.Minute)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)
	assert.Equal(t, 2, store.Size())

	clk.Add(5 * time.Minute)
	require.Eventually(t, func() bool { return store.Size() == 1 }, time.Second, time.Millisecond)

	processed, err := store.IsProcessed(ctx, "long")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store := NewInMemoryIdempotencyStore(nil)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}
