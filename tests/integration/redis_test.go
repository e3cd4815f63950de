package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/imagebot/backend/internal/infrastructure/cache"
	"github.com/imagebot/backend/internal/infrastructure/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewTestRedis(t)
	store := session.NewRedisStore(client, session.Config{Retention: time.Hour}, nil, nil)
	defer store.Close()
	ctx := context.Background()
	now := time.Now()

	rec := asset.NewRecord("k1", "s1", 42, 4242, []byte("clean"), []byte("preview"), now)
	require.NoError(t, store.Create(ctx, rec))
	assert.ErrorIs(t, store.Create(ctx, rec), asset.ErrAlreadyExists)

	t.Run("Update checks expected state", func(t *testing.T) {
		got, err := store.Update(ctx, "k1", asset.StateUnpaid, func(r *asset.Record) error {
			r.State = asset.StateInvoiced
			r.InvoiceID = "pay-1"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, asset.StateInvoiced, got.State)

		_, err = store.Update(ctx, "k1", asset.StateUnpaid, func(r *asset.Record) error { return nil })
		assert.ErrorIs(t, err, asset.ErrStateMismatch)

		stored, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "pay-1", stored.InvoiceID)
		assert.Equal(t, []byte("clean"), stored.Deliverable)
	})

	t.Run("mutator error leaves record untouched", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := store.Update(ctx, "k1", asset.StateInvoiced, func(r *asset.Record) error {
			r.InvoiceID = "pay-x"
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := store.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "pay-1", stored.InvoiceID)
	})

	t.Run("concurrent updates commit once", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "k1", asset.StateInvoiced, func(r *asset.Record) error {
					r.State = asset.StateConfirmed
					return nil
				})
				if err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("sessions", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, asset.NewRecord("k2", "s1", 42, 4242, []byte("a"), []byte("b"), now)))
		require.NoError(t, store.Create(ctx, asset.NewRecord("k3", "s2", 43, 4343, []byte("a"), []byte("b"), now)))

		recs, err := store.ListSession(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, recs, 2)

		require.NoError(t, store.DeleteSession(ctx, "s1"))
		_, err = store.Get(ctx, "k1")
		assert.ErrorIs(t, err, asset.ErrNotFound)
		_, err = store.Get(ctx, "k3")
		assert.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "k3"))
		require.NoError(t, store.Delete(ctx, "k3"))
	})
}

func TestRedisIdempotencyStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := NewTestRedis(t)
	store := cache.NewRedisIdempotencyStore(client, "test:")
	ctx := context.Background()

	done, err := store.IsProcessed(ctx, "payment.succeeded:pay-1")
	require.NoError(t, err)
	assert.False(t, done)

	newly, err := store.MarkProcessed(ctx, "payment.succeeded:pay-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, newly)

	newly, err = store.MarkProcessed(ctx, "payment.succeeded:pay-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, newly)

	done, err = store.IsProcessed(ctx, "payment.succeeded:pay-1")
	require.NoError(t, err)
	assert.True(t, done)

	ttl, err := client.TTL(ctx, "test:payment.succeeded:pay-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
