// Package tasks runs fire-and-forget work on a bounded worker pool. The
// pool never blocks a request path: when saturated, work is dropped with a
// warning rather than queued.
package tasks

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// Config holds configuration for the background pool.
type Config struct {
	Workers      int
	DrainTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      64,
		DrainTimeout: 5 * time.Second,
	}
}

// Pool schedules background work.
type Pool struct {
	pool    *ants.Pool
	drain   time.Duration
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewPool creates a non-blocking worker pool.
func NewPool(cfg Config, logger *zap.Logger) (*Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	inner, err := ants.NewPool(cfg.Workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Pool{
		pool:   inner,
		drain:  cfg.DrainTimeout,
		logger: logger.Named("tasks"),
	}, nil
}

// Submit schedules fn. Saturation drops the task; a panic inside fn is
// recovered and logged so one bad task cannot take a worker down.
func (p *Pool) Submit(name string, fn func()) {
	err := p.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Background task panicked",
					zap.String("task", name),
					zap.Any("panic", r))
			}
		}()
		fn()
	})
	if err == nil {
		return
	}

	p.dropped.Add(1)
	if errors.Is(err, ants.ErrPoolOverload) {
		p.logger.Warn("Background task dropped, pool saturated",
			zap.String("task", name),
			zap.Int("running", p.pool.Running()))
		return
	}
	p.logger.Warn("Background task rejected",
		zap.String("task", name),
		zap.Error(err))
}

// Named adapts the pool to single-method submitter interfaces, tagging all
// work with one task name.
func (p *Pool) Named(name string) *NamedSubmitter {
	return &NamedSubmitter{pool: p, name: name}
}

// NamedSubmitter submits work under a fixed task name.
type NamedSubmitter struct {
	pool *Pool
	name string
}

// Submit schedules fn under the submitter's task name.
func (n *NamedSubmitter) Submit(fn func()) error {
	n.pool.Submit(n.name, fn)
	return nil
}

// Running returns the number of in-flight tasks.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Dropped returns how many tasks were rejected since startup.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

// Close waits up to the drain timeout for in-flight work, then releases the
// workers.
func (p *Pool) Close() {
	if err := p.pool.ReleaseTimeout(p.drain); err != nil {
		p.logger.Warn("Worker pool released with tasks still running",
			zap.Error(err))
	}
}
