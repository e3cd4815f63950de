package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/imagebot/backend/internal/domain/messaging"
	"github.com/imagebot/backend/internal/infrastructure/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	mu      sync.Mutex
	offsets []int64
	calls   int
}

func (s *scriptedSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]messaging.Update, int64, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	s.calls++
	call := s.calls
	s.mu.Unlock()

	switch call {
	case 1:
		return nil, offset, errors.New("connection refused")
	case 2:
		return []messaging.Update{{ID: 10, ChatID: 1}, {ID: 11, ChatID: 2}}, 12, nil
	default:
		<-ctx.Done()
		return nil, offset, ctx.Err()
	}
}

func (s *scriptedSource) seenOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

type collectingSink struct {
	mu      sync.Mutex
	updates []messaging.Update
	err     error
}

func (s *collectingSink) Submit(u messaging.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
	return s.err
}

func (s *collectingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func TestPoller_BacksOffThenDelivers(t *testing.T) {
	clk := clock.NewMock()
	source := &scriptedSource{}
	sink := &collectingSink{}
	poller := NewPoller(PollerConfig{Timeout: time.Second}, source, sink, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return sink.count() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(source.seenOffsets()) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	offsets := source.seenOffsets()
	assert.Equal(t, int64(0), offsets[0])
	assert.Equal(t, int64(0), offsets[1])
	assert.Equal(t, int64(12), offsets[2])
}

func TestPoller_DroppedUpdatesDoNotStopPolling(t *testing.T) {
	source := &scriptedSource{calls: 1}
	sink := &collectingSink{err: errors.New("queue full")}
	poller := NewPoller(PollerConfig{Timeout: time.Second}, source, sink, clock.NewMock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(source.seenOffsets()) >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, sink.count())
	assert.Equal(t, int64(12), source.seenOffsets()[1])
}

// backlogSource serves every update at or after offset from a fixed backlog.
type backlogSource struct {
	mu      sync.Mutex
	backlog []messaging.Update
	offsets []int64
}

func (s *backlogSource) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]messaging.Update, int64, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	var out []messaging.Update
	for _, u := range s.backlog {
		if u.ID >= offset {
			out = append(out, u)
		}
	}
	s.mu.Unlock()

	if len(out) == 0 {
		<-ctx.Done()
		return nil, offset, ctx.Err()
	}
	return out, out[len(out)-1].ID + 1, nil
}

func (s *backlogSource) seenOffsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

// busyOnceSink rejects the given update with a full queue the first time.
type busyOnceSink struct {
	collectingSink
	busyID   int64
	rejected bool
}

func (s *busyOnceSink) Submit(u messaging.Update) error {
	s.mu.Lock()
	if u.ID == s.busyID && !s.rejected {
		s.rejected = true
		s.mu.Unlock()
		return scheduler.ErrUpdateQueueFull
	}
	s.mu.Unlock()
	return s.collectingSink.Submit(u)
}

func (s *busyOnceSink) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.updates))
	for _, u := range s.updates {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestPoller_FullQueueRefetchesRejectedUpdate(t *testing.T) {
	clk := clock.NewMock()
	source := &backlogSource{backlog: []messaging.Update{{ID: 10, ChatID: 1}, {ID: 11, ChatID: 2}, {ID: 12, ChatID: 3}}}
	sink := &busyOnceSink{busyID: 11}
	poller := NewPoller(PollerConfig{Timeout: time.Second}, source, sink, clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return sink.count() == 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(source.seenOffsets()) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int64{10, 11, 12}, sink.ids())
	assert.Equal(t, []int64{0, 11, 13}, source.seenOffsets()[:3])
}
