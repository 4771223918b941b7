// Package ratelimit implements the admission governor that gates outbound catalog fetches
// against a trailing time-window quota and a concurrency ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Defaults match the catalog's published request ceiling.
const (
	DefaultRequestsPerWindow = 10
	DefaultWindow            = time.Minute
	DefaultMaxConcurrent     = 3
)

// Config holds governor limits. Zero values take the defaults.
type Config struct {
	RequestsPerWindow int
	Window            time.Duration
	MaxConcurrent     int
}

// Option customizes a Governor.
type Option func(*Governor)

// WithNow overrides the time source used for the admission log.
func WithNow(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// Governor admits at most RequestsPerWindow operations in any trailing Window and at most
// MaxConcurrent operations at once. It only delays callers; the sole error it returns is
// the caller's own context ending while it waits.
type Governor struct {
	limit  int
	window time.Duration
	slots  *semaphore.Weighted
	held   atomic.Int64

	mu       sync.Mutex
	admitted []time.Time

	now      func() time.Time
	logger   *zap.Logger
	logEvery *rate.Sometimes
}

// New creates a Governor.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Governor {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = DefaultRequestsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		limit:    cfg.RequestsPerWindow,
		window:   cfg.Window,
		slots:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		admitted: make([]time.Time, 0, cfg.RequestsPerWindow),
		now:      time.Now,
		logger:   logger.Named("governor"),
		logEvery: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire blocks until a concurrency slot is free and the trailing window has room,
// then records the admission. Every successful Acquire must be paired with Release.
func (g *Governor) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire slot: %w", err)
	}
	for {
		wait := g.tryAdmit()
		if wait == 0 {
			g.held.Add(1)
			metrics.ObserveGovernorWait(time.Since(start))
			return nil
		}
		g.logEvery.Do(func() {
			g.logger.Info("request window full, waiting", zap.Duration("wait", wait), zap.Int("limit", g.limit))
		})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.slots.Release(1)
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// Release frees the slot taken by a successful Acquire. A Release with no matching
// Acquire is logged and ignored; it never adds capacity.
func (g *Governor) Release() {
	for {
		held := g.held.Load()
		if held <= 0 {
			g.logger.Warn("release without a matching acquire ignored")
			return
		}
		if g.held.CompareAndSwap(held, held-1) {
			g.slots.Release(1)
			return
		}
	}
}

// Do runs fn inside an admission. The slot is released on every exit path.
func (g *Governor) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}

// tryAdmit records an admission and returns zero, or returns how long until the oldest
// admission leaves the window.
func (g *Governor) tryAdmit() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)
	expired := 0
	for expired < len(g.admitted) && !g.admitted[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		g.admitted = append(g.admitted[:0], g.admitted[expired:]...)
	}

	if len(g.admitted) < g.limit {
		g.admitted = append(g.admitted, now)
		return 0
	}
	wait := g.admitted[0].Add(g.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}
