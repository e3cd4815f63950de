package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v5"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/infrastructure/scheduler"
	"go.uber.org/zap"
)

// UpdateSource yields batches of inbound updates
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]messaging.Update, int64, error)
}

// UpdateSink accepts updates for handling
type UpdateSink interface {
	Submit(u messaging.Update) error
}

// PollerConfig holds long-polling settings
type PollerConfig struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPollerConfig returns default polling settings
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Timeout:         30 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Poller long-polls the Bot API and hands every update to the sink
type Poller struct {
	config PollerConfig
	source UpdateSource
	sink   UpdateSink
	clock  clock.Clock
	logger *zap.Logger
}

// NewPoller creates a new update poller
func NewPoller(config PollerConfig, source UpdateSource, sink UpdateSink, clk clock.Clock, logger *zap.Logger) *Poller {
	def := DefaultPollerConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = def.InitialInterval
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = def.MaxInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		config: config,
		source: source,
		sink:   sink,
		clock:  clk,
		logger: logger.Named("poller"),
	}
}

// Run polls until ctx is cancelled. Errors back off exponentially.
func (p *Poller) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.InitialInterval
	b.MaxInterval = p.config.MaxInterval

	var offset int64
	p.logger.Info("Update polling started", zap.Duration("timeout", p.config.Timeout))

	for {
		if ctx.Err() != nil {
			p.logger.Info("Update polling stopped")
			return nil
		}

		updates, next, err := p.source.GetUpdates(ctx, offset, p.config.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait := b.NextBackOff()
			p.logger.Warn("Failed to fetch updates",
				zap.Error(err),
				zap.Duration("retry_in", wait),
			)
			select {
			case <-ctx.Done():
			case <-p.clock.After(wait):
			}
			continue
		}
		accepted, busy := p.submit(updates)
		if !busy {
			b.Reset()
			offset = next
			continue
		}
		// refetch from the first rejected update once the queue drains
		offset = updates[accepted].ID
		wait := b.NextBackOff()
		p.logger.Warn("Update queue full, pausing polling",
			zap.Int64("update_id", offset),
			zap.Duration("retry_in", wait),
		)
		select {
		case <-ctx.Done():
		case <-p.clock.After(wait):
		}
	}
}

// submit hands updates to the sink in order and stops at the first one the
// sink is too busy to take. It returns how many were handed over.
func (p *Poller) submit(updates []messaging.Update) (int, bool) {
	for i, u := range updates {
		err := p.sink.Submit(u)
		switch {
		case err == nil:
		case errors.Is(err, scheduler.ErrUpdateQueueFull):
			return i, true
		default:
			p.logger.Warn("Update dropped",
				zap.Int64("update_id", u.ID),
				zap.Int64("chat_id", u.ChatID),
				zap.Error(err),
			)
		}
	}
	return len(updates), false
}
