package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/asset"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultKeyPrefix = "imagebot:"
	maxCASAttempts   = 8
)

// ErrTooManyConflicts is returned when optimistic updates keep colliding
var ErrTooManyConflicts = errors.New("asset update conflicted too many times")

// RedisStore keeps asset records in Redis so that live invoices survive a
// restart. Records are JSON under asset:<key>; each session has a set of its
// keys. Update is an optimistic WATCH/MULTI transaction.
type RedisStore struct {
	client    *redis.Client
	config    Config
	clock     clock.Clock
	logger    *zap.Logger
	keyPrefix string
}

// NewRedisStore creates a Redis store on a shared client
func NewRedisStore(client *redis.Client, config Config, clk clock.Clock, logger *zap.Logger) *RedisStore {
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client:    client,
		config:    config,
		clock:     clk,
		logger:    logger,
		keyPrefix: defaultKeyPrefix,
	}
}

func (s *RedisStore) recordKey(key string) string {
	return s.keyPrefix + "asset:" + key
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID + ":assets"
}

// ttl is zero (no expiry) for records a live invoice still needs.
func (s *RedisStore) ttl(state asset.State) time.Duration {
	if pinned(state) {
		return 0
	}
	return s.config.Retention
}

// Create inserts a new record
func (s *RedisStore) Create(ctx context.Context, r asset.Record) error {
	now := s.clock.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Version = 1

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode asset record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.recordKey(r.Key), data, s.ttl(r.State)).Result()
	if err != nil {
		return fmt.Errorf("failed to create asset record: %w", err)
	}
	if !created {
		return asset.ErrAlreadyExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.sessionKey(r.SessionID), r.Key)
		pipe.Expire(ctx, s.sessionKey(r.SessionID), s.config.Retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index asset record: %w", err)
	}
	return nil
}

// Get returns a snapshot of the record
func (s *RedisStore) Get(ctx context.Context, key string) (asset.Record, error) {
	raw, err := s.client.Get(ctx, s.recordKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return asset.Record{}, asset.ErrNotFound
	}
	if err != nil {
		return asset.Record{}, fmt.Errorf("failed to read asset record: %w", err)
	}
	return decodeRecord(raw)
}

// Update applies mutate when the record is in the expected state
func (s *RedisStore) Update(ctx context.Context, key string, expected asset.State, mutate asset.Mutator) (asset.Record, error) {
	rkey := s.recordKey(key)
	var committed asset.Record

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rkey).Bytes()
		if errors.Is(err, redis.Nil) {
			return asset.ErrNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if cur.State != expected {
			return asset.ErrStateMismatch
		}

		next := cur
		if err := mutate(&next); err != nil {
			return err
		}
		next.Key = cur.Key
		next.SessionID = cur.SessionID
		next.Version = cur.Version + 1
		next.UpdatedAt = s.clock.Now()

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode asset record: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, s.ttl(next.State))
			pipe.Expire(ctx, s.sessionKey(next.SessionID), s.config.Retention)
			return nil
		})
		if err != nil {
			return err
		}
		committed = next
		return nil
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("Asset update conflicted, retrying",
				zap.String("asset_key", key),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return asset.Record{}, err
		}
		return committed, nil
	}
	return asset.Record{}, ErrTooManyConflicts
}

// ListSession returns snapshots of every record in the session. Members whose
// record already expired are pruned from the index.
func (s *RedisStore) ListSession(ctx context.Context, sessionID string) ([]asset.Record, error) {
	keys, err := s.client.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session assets: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	rkeys := make([]string, len(keys))
	for i, k := range keys {
		rkeys[i] = s.recordKey(k)
	}
	values, err := s.client.MGet(ctx, rkeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session assets: %w", err)
	}

	out := make([]asset.Record, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		r, err := decodeRecord([]byte(str))
		if err != nil {
			s.logger.Warn("Skipping undecodable asset record",
				zap.String("asset_key", keys[i]),
				zap.Error(err),
			)
			continue
		}
		out = append(out, r)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.sessionKey(sessionID), stale...).Err()
	}
	return out, nil
}

// Delete removes one record
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	r, err := s.Get(ctx, key)
	if errors.Is(err, asset.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(key))
		pipe.SRem(ctx, s.sessionKey(r.SessionID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete asset record: %w", err)
	}
	return nil
}

// DeleteSession removes every record in the session
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	skey := s.sessionKey(sessionID)
	keys, err := s.client.SMembers(ctx, skey).Result()
	if err != nil {
		return fmt.Errorf("failed to list session assets: %w", err)
	}

	dels := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		dels = append(dels, s.recordKey(k))
	}
	dels = append(dels, skey)
	if err := s.client.Del(ctx, dels...).Err(); err != nil {
		return fmt.Errorf("failed to delete session assets: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client is closed by its owner
func (s *RedisStore) Close() error {
	return nil
}

func decodeRecord(raw []byte) (asset.Record, error) {
	var r asset.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return asset.Record{}, fmt.Errorf("failed to decode asset record: %w", err)
	}
	return r, nil
}

// Ensure RedisStore implements asset.Store
var _ asset.Store = (*RedisStore)(nil)
