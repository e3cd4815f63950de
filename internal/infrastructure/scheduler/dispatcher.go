package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/imagebot/backend/internal/domain/messaging"
	"go.uber.org/zap"
)

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultDispatcherConfig returns default dispatcher configuration
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     8,
		QueueSize:   256,
		TaskTimeout: 3 * time.Minute,
	}
}

// Dispatcher runs one foreground task per inbound update on a bounded
// worker pool.
type Dispatcher struct {
	config  DispatcherConfig
	handler messaging.UpdateHandler
	logger  *zap.Logger

	updates   chan messaging.Update
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
}

// NewDispatcher creates a new dispatcher instance
func NewDispatcher(config DispatcherConfig, handler messaging.UpdateHandler, logger *zap.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		config:  config,
		handler: handler,
		logger:  logger,
		updates: make(chan messaging.Update, config.QueueSize),
	}
}

// Start starts the worker pool
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isRunning {
		return nil
	}
	d.isRunning = true

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	d.logger.Info("Update dispatcher started",
		zap.Int("workers", d.config.Workers),
		zap.Int("queue_size", d.config.QueueSize),
	)
	return nil
}

// Stop gracefully stops the dispatcher. Queued updates are drained.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil
	}
	d.isRunning = false
	close(d.updates)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("Update dispatcher stopped gracefully")
		return nil
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("Update dispatcher stop timed out")
		return ctx.Err()
	}
}

// Submit queues an update for handling
func (d *Dispatcher) Submit(u messaging.Update) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.isRunning {
		return ErrDispatcherStopped
	}

	select {
	case d.updates <- u:
		return nil
	default:
		d.logger.Warn("Update queue full, rejecting update",
			zap.Int64("update_id", u.ID),
			zap.Int64("chat_id", u.ChatID),
		)
		return ErrUpdateQueueFull
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-d.updates:
			if !ok {
				return
			}
			d.process(ctx, u, workerID)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, u messaging.Update, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Update handler panicked",
				zap.Int("worker_id", workerID),
				zap.Int64("update_id", u.ID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, d.config.TaskTimeout)
	defer cancel()

	d.handler.HandleUpdate(taskCtx, u)
}
