package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/shared"
)

const sweepInterval = 5 * time.Minute

// InMemoryIdempotencyStore keeps processed notification keys in a map with
// per-key expiry. Only one process sees the map, so it fits single-instance
// deployments and tests.
type InMemoryIdempotencyStore struct {
	clock clock.Clock

	mu       sync.RWMutex
	deadline map[string]time.Time

	stop context.CancelFunc
	done chan struct{}
}

// NewInMemoryIdempotencyStore starts a sweeper that drops expired keys every
// five minutes of clk time. A nil clk means the wall clock.
func NewInMemoryIdempotencyStore(clk clock.Clock) *InMemoryIdempotencyStore {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &InMemoryIdempotencyStore{
		clock:    clk,
		deadline: make(map[string]time.Time),
		stop:     cancel,
		done:     make(chan struct{}),
	}

	ticker := clk.Ticker(sweepInterval)
	go s.sweep(ctx, ticker)
	return s
}

func (s *InMemoryIdempotencyStore) live(id string, now time.Time) bool {
	until, ok := s.deadline[id]
	return ok && now.Before(until)
}

// MarkProcessed reports true when id was not live and is now recorded for ttl.
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, id string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.live(id, now) {
		return false, nil
	}
	s.deadline[id] = now.Add(ttl)
	return true, nil
}

func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live(id, s.clock.Now()), nil
}

// Close stops the sweeper. It may be called more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.stop()
	<-s.done
	return nil
}

func (s *InMemoryIdempotencyStore) sweep(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		now := s.clock.Now()
		for id := range s.deadline {
			if !s.live(id, now) {
				delete(s.deadline, id)
			}
		}
		s.mu.Unlock()
	}
}

// Size is the number of keys held, expired or not.
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deadline)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
