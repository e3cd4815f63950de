package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/imagebot/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const defaultIdempotencyPrefix = "notification:idempotency:"

// RedisIdempotencyStore shares processed notification keys between all bot
// instances behind the same webhook. Keys expire through Redis TTLs.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore uses client without taking ownership of it.
func NewRedisIdempotencyStore(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = defaultIdempotencyPrefix
	}
	return &RedisIdempotencyStore{client: client, prefix: keyPrefix}
}

func (s *RedisIdempotencyStore) key(id string) string { return s.prefix + id }

// MarkProcessed sets the key only if absent. The stored value is the Unix
// time of the first mark, which helps when inspecting keys by hand.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, s.key(id), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark notification %s: %w", id, err)
	}
	return fresh, nil
}

func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check notification %s: %w", id, err)
	}
	return n == 1, nil
}

// Close leaves the shared client open.
func (s *RedisIdempotencyStore) Close() error { return nil }

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
