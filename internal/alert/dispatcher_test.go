package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

func (s *recordingSink) Send(ctx context.Context, ev Event) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type resultCounter struct {
	mu     sync.Mutex
	counts map[Result]int
}

func (c *resultCounter) hook(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[Result]int)
	}
	c.counts[r]++
}

func (c *resultCounter) get(r Result) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[r]
}

func TestDispatcher_DeliversAndDrains(t *testing.T) {
	sink := newRecordingSink()
	var results resultCounter
	d := NewDispatcher(sink, zerolog.Nop(), WithWorkers(3), WithResultHook(results.hook))

	for i := 0; i < 50; i++ {
		d.Notify(Event{Kind: KindLogin, Address: "a"})
	}
	require.NoError(t, d.Close(context.Background()))

	events := sink.Events()
	require.Len(t, events, 50)
	for _, ev := range events {
		assert.False(t, ev.Time.IsZero(), "time is stamped on notify")
	}
	assert.Equal(t, 50, results.get(ResultSent))
	assert.Zero(t, d.Dropped())
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	sink := newRecordingSink()
	sink.block = make(chan struct{})
	var results resultCounter
	d := NewDispatcher(sink, zerolog.Nop(), WithWorkers(1), WithQueueSize(2), WithResultHook(results.hook))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.Notify(Event{Kind: KindExpired})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a stalled sink")
	}

	// One event may be held by the worker and two sit in the queue.
	require.GreaterOrEqual(t, d.Dropped(), uint64(17))
	assert.Equal(t, int(d.Dropped()), results.get(ResultDropped))

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_SinkFailure(t *testing.T) {
	var results resultCounter
	d := NewDispatcher(failingSink{errors.New("down")}, zerolog.Nop(), WithResultHook(results.hook))

	d.Notify(Event{Kind: KindHashMismatch})
	d.Notify(Event{Kind: KindHashMismatch})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 2, results.get(ResultFailed))
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	d := NewDispatcher(newRecordingSink(), zerolog.Nop())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()), "close is idempotent")

	require.NotPanics(t, func() { d.Notify(Event{Kind: KindLogin}) })
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcher_CloseDeadline(t *testing.T) {
	sink := newRecordingSink()
	sink.block = make(chan struct{})
	d := NewDispatcher(sink, zerolog.Nop(), WithWorkers(1), WithTimeout(time.Hour))

	d.Notify(Event{Kind: KindLogin})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := d.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, sink.Events(), "in-flight delivery was cancelled")
}

func TestDispatcher_PerDeliveryTimeout(t *testing.T) {
	sink := newRecordingSink()
	sink.block = make(chan struct{})
	var results resultCounter
	d := NewDispatcher(sink, zerolog.Nop(), WithTimeout(20*time.Millisecond), WithResultHook(results.hook))

	d.Notify(Event{Kind: KindLogin})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, results.get(ResultFailed))
}
