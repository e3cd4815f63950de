// Package session holds AssetStore adapters.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/asset"
	"go.uber.org/zap"
)

// Config holds asset store configuration
type Config struct {
	// Retention is how long an idle record is kept
	Retention time.Duration
	// CleanupInterval is how often the memory store evicts idle records
	CleanupInterval time.Duration
}

// DefaultConfig returns default store configuration
func DefaultConfig() Config {
	return Config{
		Retention:       24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
	}
}

// pinned reports whether a record must survive retention: a live invoice or
// a pending delivery still needs it.
func pinned(s asset.State) bool {
	return s == asset.StateInvoiced || s == asset.StateConfirmed
}

type memoryEntry struct {
	mu      sync.Mutex
	rec     asset.Record
	deleted bool
}

// MemoryStore is an in-process AssetStore. Each record has its own lock so
// updates on different assets never wait on each other.
type MemoryStore struct {
	config Config
	clock  clock.Clock
	logger *zap.Logger

	mu       sync.RWMutex
	records  map[string]*memoryEntry
	sessions map[string]map[string]struct{}

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryStore creates a memory store and starts its retention loop
func NewMemoryStore(config Config, clk clock.Clock, logger *zap.Logger) *MemoryStore {
	def := DefaultConfig()
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		config:   config,
		clock:    clk,
		logger:   logger,
		records:  make(map[string]*memoryEntry),
		sessions: make(map[string]map[string]struct{}),
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop(clk.Ticker(config.CleanupInterval))
	return s
}

// Create inserts a new record
func (s *MemoryStore) Create(ctx context.Context, r asset.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.Key]; exists {
		return asset.ErrAlreadyExists
	}
	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1
	s.records[r.Key] = &memoryEntry{rec: r}

	keys, ok := s.sessions[r.SessionID]
	if !ok {
		keys = make(map[string]struct{})
		s.sessions[r.SessionID] = keys
	}
	keys[r.Key] = struct{}{}
	return nil
}

// Get returns a snapshot of the record
func (s *MemoryStore) Get(ctx context.Context, key string) (asset.Record, error) {
	e := s.entry(key)
	if e == nil {
		return asset.Record{}, asset.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return asset.Record{}, asset.ErrNotFound
	}
	return e.rec, nil
}

// Update applies mutate when the record is in the expected state
func (s *MemoryStore) Update(ctx context.Context, key string, expected asset.State, mutate asset.Mutator) (asset.Record, error) {
	e := s.entry(key)
	if e == nil {
		return asset.Record{}, asset.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return asset.Record{}, asset.ErrNotFound
	}
	if e.rec.State != expected {
		return asset.Record{}, asset.ErrStateMismatch
	}

	next := e.rec
	if err := mutate(&next); err != nil {
		return asset.Record{}, err
	}
	next.Key = e.rec.Key
	next.SessionID = e.rec.SessionID
	next.Version = e.rec.Version + 1
	next.UpdatedAt = s.clock.Now()
	e.rec = next
	return next, nil
}

// ListSession returns snapshots of every record in the session
func (s *MemoryStore) ListSession(ctx context.Context, sessionID string) ([]asset.Record, error) {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.sessions[sessionID]))
	for key := range s.sessions[sessionID] {
		entries = append(entries, s.records[key])
	}
	s.mu.RUnlock()

	out := make([]asset.Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.rec)
		}
		e.mu.Unlock()
	}
	return out, nil
}

// Delete removes one record
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(key)
	return nil
}

// DeleteSession removes every record in the session
func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.sessions[sessionID] {
		s.removeLocked(key)
	}
	delete(s.sessions, sessionID)
	return nil
}

// Close stops the retention loop. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Size returns the number of records (for testing/monitoring)
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) entry(key string) *memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[key]
}

// removeLocked must be called with s.mu held.
func (s *MemoryStore) removeLocked(key string) {
	e, ok := s.records[key]
	if !ok {
		return
	}
	e.mu.Lock()
	e.deleted = true
	sessionID := e.rec.SessionID
	e.mu.Unlock()

	delete(s.records, key)
	if keys, ok := s.sessions[sessionID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(s.sessions, sessionID)
		}
	}
}

func (s *MemoryStore) cleanupLoop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.evictIdle(); n > 0 {
				s.logger.Debug("Evicted idle asset records", zap.Int("count", n))
			}
		}
	}
}

// evictIdle removes records idle longer than the retention period
func (s *MemoryStore) evictIdle() int {
	cutoff := s.clock.Now().Add(-s.config.Retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []string
	for key, e := range s.records {
		e.mu.Lock()
		idle := !pinned(e.rec.State) && e.rec.UpdatedAt.Before(cutoff)
		e.mu.Unlock()
		if idle {
			victims = append(victims, key)
		}
	}
	for _, key := range victims {
		s.removeLocked(key)
	}
	return len(victims)
}

// Ensure MemoryStore implements asset.Store
var _ asset.Store = (*MemoryStore)(nil)
