package security

import (
	"sync"
	"time"

	"keygate/internal/constants"
)

// RequestLimiter counts allowed requests per address over a trailing
// window. Only allowed requests are recorded, so a client that keeps
// hammering after being limited is let back in once its old requests
// age out.
type RequestLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time

	stop      chan struct{}
	closeOnce sync.Once
}

type RequestLimiterOption func(*RequestLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) RequestLimiterOption {
	return func(rl *RequestLimiter) { rl.now = now }
}

func NewRequestLimiter(limit int, window time.Duration, opts ...RequestLimiterOption) *RequestLimiter {
	rl := &RequestLimiter{
		windows: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanup(constants.CleanupInterval)
	return rl
}

func (rl *RequestLimiter) Allow(addr string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.evict(rl.windows[addr], now)
	if len(recent) >= rl.limit {
		rl.windows[addr] = recent
		return false
	}
	rl.windows[addr] = append(recent, now)
	return true
}

// evict drops timestamps that are a full window or more behind now. The
// slice is ordered, so the survivors are a suffix.
func (rl *RequestLimiter) evict(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// Sweep forgets addresses with no requests left in the window and
// returns how many were removed.
func (rl *RequestLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for addr, ts := range rl.windows {
		if len(rl.evict(ts, now)) == 0 {
			delete(rl.windows, addr)
			removed++
		}
	}
	return removed
}

// Tracked returns the number of addresses currently held.
func (rl *RequestLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.windows)
}

func (rl *RequestLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the background sweeper.
func (rl *RequestLimiter) Close() {
	rl.closeOnce.Do(func() { close(rl.stop) })
}
