// Package ratelimit enforces per-principal request budgets over a one-minute
// window. State is per-process; each instance meters the traffic it sees.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/temporal"
)

const windowMS = 60_000

type window struct {
	count   int
	resetAt int64
}

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Count     int
	Remaining int
	// ResetAt is the window end in ms since epoch.
	ResetAt int64
	// RetryAfter is whole seconds until the window resets, set only when
	// the request is denied.
	RetryAfter int64
}

// ResetSeconds is the window end as unix seconds, rounded up.
func (r Result) ResetSeconds() int64 {
	return ceilDiv(r.ResetAt, 1000)
}

// Limiter tracks request counts per key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*window
	clock   temporal.Clock
	logger  *zap.Logger
	stop    chan struct{}
	done    chan struct{}
}

// NewLimiter creates an idle limiter. Call Start to run the janitor.
func NewLimiter(logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		entries: make(map[string]*window),
		clock:   temporal.Now,
		logger:  logger.Named("ratelimit"),
	}
}

// WithClock swaps the wall clock, for tests.
func (l *Limiter) WithClock(clock temporal.Clock) *Limiter {
	l.clock = clock
	return l
}

// Allow counts one request against key. Requests are admitted while the
// incremented count stays within limit; a non-positive limit disables
// metering for the key.
func (l *Limiter) Allow(key string, limit int) Result {
	if limit <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.entries[key]
	if !ok || now >= w.resetAt {
		w = &window{resetAt: now + windowMS}
		l.entries[key] = w
	}
	w.count++

	res := Result{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Count:     w.count,
		Remaining: max(0, limit-w.count),
		ResetAt:   w.resetAt,
	}
	if !res.Allowed {
		res.RetryAfter = ceilDiv(w.resetAt-now, 1000)
	}
	return res
}

// Size returns the number of tracked windows, for diagnostics.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Start runs the janitor that evicts expired windows.
func (l *Limiter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.evictExpired()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit.
func (l *Limiter) Stop() {
	if l.stop == nil {
		return
	}
	close(l.stop)
	<-l.done
	l.stop = nil
}

func (l *Limiter) evictExpired() {
	now := l.clock()

	l.mu.Lock()
	evicted := 0
	for key, w := range l.entries {
		if now >= w.resetAt {
			delete(l.entries, key)
			evicted++
		}
	}
	remaining := len(l.entries)
	l.mu.Unlock()

	if evicted > 0 {
		l.logger.Debug("Evicted expired rate windows",
			zap.Int("evicted", evicted),
			zap.Int("remaining", remaining))
	}
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
