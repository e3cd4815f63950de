package shared

import (
	"context"
	"time"
)

// IdempotencyStore records keys of gateway notifications that were acted on,
// so a redelivered webhook is acknowledged without running the side effect
// twice. Keys are forgotten after their TTL.
type IdempotencyStore interface {
	// MarkProcessed reports false when id is already recorded.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, id string) (bool, error)
	Close() error
}
