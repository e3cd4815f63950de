package scheduler

import "errors"

// Dispatcher errors.
var (
	ErrDispatcherStopped = errors.New("update dispatcher is not running")
	ErrUpdateQueueFull   = errors.New("update queue is full")
)

// Watcher errors.
var (
	ErrWatcherStopped = errors.New("invoice watcher is stopped")
	// ErrInvalidTarget rejects a target missing its asset key or invoice id.
	ErrInvalidTarget = errors.New("invalid watch target")
)
