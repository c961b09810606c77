package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"keygate/internal/constants"
)

// Result is the outcome of one event as seen by the Dispatcher.
type Result string

const (
	ResultSent    Result = "sent"
	ResultFailed  Result = "failed"
	ResultDropped Result = "dropped"
)

// Dispatcher queues events and delivers them to a Sink from a fixed pool
// of workers. Notify never blocks: when the queue is full or the
// dispatcher is closed the event is dropped and counted.
type Dispatcher struct {
	sink     Sink
	log      zerolog.Logger
	queue    chan Event
	timeout  time.Duration
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

type DispatcherOption func(*dispatcherConfig)

type dispatcherConfig struct {
	queueSize int
	workers   int
	timeout   time.Duration
	onResult  func(Result)
}

func WithQueueSize(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.queueSize = n }
}

func WithWorkers(n int) DispatcherOption {
	return func(c *dispatcherConfig) { c.workers = n }
}

// WithTimeout bounds each Sink.Send call.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(c *dispatcherConfig) { c.timeout = d }
}

// WithResultHook is called once per event with its outcome.
func WithResultHook(fn func(Result)) DispatcherOption {
	return func(c *dispatcherConfig) { c.onResult = fn }
}

func NewDispatcher(sink Sink, log zerolog.Logger, opts ...DispatcherOption) *Dispatcher {
	cfg := dispatcherConfig{
		queueSize: constants.AlertQueueSize,
		workers:   constants.AlertWorkers,
		timeout:   constants.AlertTimeout,
		onResult:  func(Result) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sink:     sink,
		log:      log.With().Str("component", "dispatcher").Logger(),
		queue:    make(chan Event, cfg.queueSize),
		timeout:  cfg.timeout,
		onResult: cfg.onResult,
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *Dispatcher) Notify(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ev, "dispatcher closed")
		return
	}

	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.dropped.Add(1)
	d.onResult(ResultDropped)
	d.log.Warn().Str("kind", string(ev.Kind)).Str("reason", reason).Msg("alert dropped")
}

// Dropped returns how many events were discarded without delivery.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err := d.sink.Send(ctx, ev)
		cancel()

		if err != nil {
			d.onResult(ResultFailed)
			d.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("alert delivery failed")
			continue
		}
		d.onResult(ResultSent)
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// If ctx ends first, in-flight deliveries are cancelled and ctx's error is
// returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
