package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Outcome is the terminal condition a watcher observed
type Outcome string

const (
	OutcomeConfirmed       Outcome = "CONFIRMED"
	OutcomeDeadlineReached Outcome = "DEADLINE_REACHED"
)

// Target identifies one invoice to watch
type Target struct {
	SessionID string
	AssetKey  string
	InvoiceID string
	Deadline  time.Time
}

// StatusChecker reads whether an invoice has been paid. Implementations retry
// internally; an error means the status is still unknown.
type StatusChecker interface {
	CheckStatus(ctx context.Context, invoiceID string) (bool, error)
}

// ResolveFunc is called exactly once when a watcher reaches a terminal
// condition. It must not call Cancel for the same asset key.
type ResolveFunc func(ctx context.Context, target Target, outcome Outcome)

// WatcherConfig holds invoice watcher configuration
type WatcherConfig struct {
	PollInterval   time.Duration
	ResolveTimeout time.Duration
}

// DefaultWatcherConfig returns default watcher configuration
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		PollInterval:   10 * time.Second,
		ResolveTimeout: 30 * time.Second,
	}
}

type watch struct {
	target Target
	cancel context.CancelFunc
	done   chan struct{}
}

// InvoiceWatcher runs one polling goroutine per active invoice.
type InvoiceWatcher struct {
	config  WatcherConfig
	checker StatusChecker
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	watches map[string]*watch
	stopped bool
}

// NewInvoiceWatcher creates a new invoice watcher
func NewInvoiceWatcher(config WatcherConfig, checker StatusChecker, clk clock.Clock, logger *zap.Logger) *InvoiceWatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatcherConfig().PollInterval
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = DefaultWatcherConfig().ResolveTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvoiceWatcher{
		config:  config,
		checker: checker,
		clock:   clk,
		logger:  logger,
		watches: make(map[string]*watch),
	}
}

// Watch starts watching target unless the same invoice is already watched
// for the asset, in which case it returns false. A different invoice for the
// same asset replaces the previous watcher.
func (w *InvoiceWatcher) Watch(target Target, resolve ResolveFunc) (bool, error) {
	if target.AssetKey == "" || target.InvoiceID == "" || resolve == nil {
		return false, ErrInvalidTarget
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false, ErrWatcherStopped
	}
	if existing, ok := w.watches[target.AssetKey]; ok {
		if existing.target.InvoiceID == target.InvoiceID {
			w.mu.Unlock()
			return false, nil
		}
		w.mu.Unlock()
		w.logger.Info("Replacing invoice watcher",
			zap.String("asset_key", target.AssetKey),
			zap.String("old_invoice_id", existing.target.InvoiceID),
			zap.String("invoice_id", target.InvoiceID),
		)
		w.Cancel(target.AssetKey)
		return w.Watch(target, resolve)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wt := &watch{target: target, cancel: cancel, done: make(chan struct{})}
	w.watches[target.AssetKey] = wt

	// Timers are armed before returning so a mock clock advanced right after
	// Watch observes them.
	ticker := w.clock.Ticker(w.config.PollInterval)
	wait := target.Deadline.Sub(w.clock.Now())
	if wait < 0 {
		wait = 0
	}
	deadline := w.clock.Timer(wait)
	w.mu.Unlock()

	go w.run(ctx, wt, ticker, deadline, resolve)

	w.logger.Debug("Invoice watcher started",
		zap.String("asset_key", target.AssetKey),
		zap.String("invoice_id", target.InvoiceID),
		zap.Time("deadline", target.Deadline),
	)
	return true, nil
}

func (w *InvoiceWatcher) run(ctx context.Context, wt *watch, ticker *clock.Ticker, deadline *clock.Timer, resolve ResolveFunc) {
	defer close(wt.done)
	defer w.forget(wt)
	defer ticker.Stop()
	defer deadline.Stop()

	t := wt.target
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Invoice watcher cancelled",
				zap.String("asset_key", t.AssetKey),
				zap.String("invoice_id", t.InvoiceID),
			)
			return
		case <-ticker.C:
			if w.poll(ctx, t) {
				w.resolve(ctx, t, OutcomeConfirmed, resolve)
				return
			}
		case <-deadline.C:
			// one last read so a payment completed right before the deadline wins
			if w.poll(ctx, t) {
				w.resolve(ctx, t, OutcomeConfirmed, resolve)
				return
			}
			w.resolve(ctx, t, OutcomeDeadlineReached, resolve)
			return
		}
	}
}

// poll returns true only for a confirmed payment. Errors and panics count as
// still pending.
func (w *InvoiceWatcher) poll(ctx context.Context, t Target) (paid bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Invoice status poll panicked",
				zap.String("asset_key", t.AssetKey),
				zap.String("invoice_id", t.InvoiceID),
				zap.String("panic", fmt.Sprint(r)),
			)
			paid = false
		}
	}()

	paid, err := w.checker.CheckStatus(ctx, t.InvoiceID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn("Invoice status poll failed",
				zap.String("asset_key", t.AssetKey),
				zap.String("invoice_id", t.InvoiceID),
				zap.Error(err),
			)
		}
		return false
	}
	return paid
}

func (w *InvoiceWatcher) resolve(ctx context.Context, t Target, outcome Outcome, resolve ResolveFunc) {
	if ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.ResolveTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Invoice resolve panicked",
				zap.String("asset_key", t.AssetKey),
				zap.String("invoice_id", t.InvoiceID),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	w.logger.Info("Invoice watcher resolved",
		zap.String("asset_key", t.AssetKey),
		zap.String("invoice_id", t.InvoiceID),
		zap.String("outcome", string(outcome)),
	)
	resolve(rctx, t, outcome)
}

func (w *InvoiceWatcher) forget(wt *watch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cur, ok := w.watches[wt.target.AssetKey]; ok && cur == wt {
		delete(w.watches, wt.target.AssetKey)
	}
}

// Cancel stops the watcher for the asset and waits for it to exit.
func (w *InvoiceWatcher) Cancel(assetKey string) {
	w.mu.Lock()
	wt, ok := w.watches[assetKey]
	w.mu.Unlock()
	if !ok {
		return
	}
	wt.cancel()
	<-wt.done
}

// CancelSession stops every watcher of the session, waits for them and
// returns their targets.
func (w *InvoiceWatcher) CancelSession(sessionID string) []Target {
	w.mu.Lock()
	var victims []*watch
	for _, wt := range w.watches {
		if wt.target.SessionID == sessionID {
			victims = append(victims, wt)
		}
	}
	w.mu.Unlock()

	for _, wt := range victims {
		wt.cancel()
	}
	targets := make([]Target, 0, len(victims))
	for _, wt := range victims {
		<-wt.done
		targets = append(targets, wt.target)
	}
	if len(victims) > 0 {
		w.logger.Info("Session watchers cancelled",
			zap.String("session_id", sessionID),
			zap.Int("count", len(victims)),
		)
	}
	return targets
}

// IsWatching reports whether a watcher is running for the asset
func (w *InvoiceWatcher) IsWatching(assetKey string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[assetKey]
	return ok
}

// Active returns the number of running watchers
func (w *InvoiceWatcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watches)
}

// Stop cancels all watchers and waits for them until ctx expires.
func (w *InvoiceWatcher) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	all := make([]*watch, 0, len(w.watches))
	for _, wt := range w.watches {
		all = append(all, wt)
	}
	w.mu.Unlock()

	for _, wt := range all {
		wt.cancel()
	}

	done := make(chan struct{})
	go func() {
		for _, wt := range all {
			<-wt.done
		}
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Invoice watcher stopped gracefully", zap.Int("cancelled", len(all)))
		return nil
	case <-ctx.Done():
		w.logger.Warn("Invoice watcher stop timed out")
		return ctx.Err()
	}
}
