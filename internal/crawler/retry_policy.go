package crawler

import (
	"context"
	"errors"
	"math"
	"net"
	"syscall"
	"time"
)

// Category is the failure class assigned to a fetch error.
type Category string

const (
	// CategoryTransient covers name resolution failures and timeouts.
	CategoryTransient Category = "transient-network"
	// CategoryRateLimited covers explicit throttling by the remote side.
	CategoryRateLimited Category = "rate-limited"
	// CategoryUnclassified covers everything else; these are not retried.
	CategoryUnclassified Category = "unclassified"
)

// Retry defaults mirror the values the catalog crawl has historically used.
const (
	DefaultMaxTransientAttempts = 3
	DefaultTransientBase        = time.Second
	DefaultRateLimitWait        = 30 * time.Second
)

// AttemptState counts how many retries of each category have already been made for one fetch.
type AttemptState struct {
	Transient   int
	RateLimited int
}

// Decision is the outcome of classifying a failure.
type Decision struct {
	Category Category
	Retry    bool
	Delay    time.Duration
	Next     AttemptState
}

// Strategy decides how to handle one category of failure.
type Strategy func(err error, state AttemptState) Decision

// RetryConfig tunes the built-in strategies.
type RetryConfig struct {
	MaxTransientAttempts int
	TransientBase        time.Duration
	DefaultRateLimitWait time.Duration
	// MaxRateLimitRetries bounds consecutive rate-limit retries. Zero means unbounded.
	MaxRateLimitRetries int
}

// RetryPolicy maps failures to a category and then to a per-category Strategy.
type RetryPolicy struct {
	strategies map[Category]Strategy
}

// NewRetryPolicy builds the default strategy table from cfg, filling zero values with defaults.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy {
	if cfg.MaxTransientAttempts <= 0 {
		cfg.MaxTransientAttempts = DefaultMaxTransientAttempts
	}
	if cfg.TransientBase <= 0 {
		cfg.TransientBase = DefaultTransientBase
	}
	if cfg.DefaultRateLimitWait <= 0 {
		cfg.DefaultRateLimitWait = DefaultRateLimitWait
	}
	return &RetryPolicy{
		strategies: map[Category]Strategy{
			CategoryTransient:    transientStrategy(cfg.MaxTransientAttempts, cfg.TransientBase),
			CategoryRateLimited:  rateLimitStrategy(cfg.DefaultRateLimitWait, cfg.MaxRateLimitRetries),
			CategoryUnclassified: failFast,
		},
	}
}

// WithStrategy replaces the strategy used for one category and returns the policy.
func (p *RetryPolicy) WithStrategy(category Category, strategy Strategy) *RetryPolicy {
	p.strategies[category] = strategy
	return p
}

// Decide classifies err and applies the matching strategy.
func (p *RetryPolicy) Decide(err error, state AttemptState) Decision {
	category := Classify(err)
	strategy, ok := p.strategies[category]
	if !ok {
		strategy = failFast
	}
	decision := strategy(err, state)
	decision.Category = category
	return decision
}

// Classify assigns err to a failure category.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnclassified
	}
	// Cancellation is never retried, even when it surfaces through a net.Error. An
	// expired deadline is a request timeout; callers check their own ctx before retrying.
	if errors.Is(err, context.Canceled) {
		return CategoryUnclassified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return CategoryRateLimited
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code == 429 {
			return CategoryRateLimited
		}
		return CategoryUnclassified
	}
	if errors.Is(err, ErrMalformedResponse) {
		return CategoryUnclassified
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryTransient
	}
	if errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return CategoryTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}
	return CategoryUnclassified
}

func transientStrategy(maxAttempts int, base time.Duration) Strategy {
	return func(_ error, state AttemptState) Decision {
		if state.Transient >= maxAttempts {
			return Decision{Next: state}
		}
		delay := time.Duration(float64(base) * math.Pow(2, float64(state.Transient)))
		next := state
		next.Transient++
		return Decision{Retry: true, Delay: delay, Next: next}
	}
}

func rateLimitStrategy(defaultWait time.Duration, maxRetries int) Strategy {
	return func(err error, state AttemptState) Decision {
		if maxRetries > 0 && state.RateLimited >= maxRetries {
			return Decision{Next: state}
		}
		wait := defaultWait
		var rateErr *RateLimitError
		if errors.As(err, &rateErr) && rateErr.HasHint {
			wait = rateErr.RetryAfter
		}
		next := state
		next.RateLimited++
		return Decision{Retry: true, Delay: wait, Next: next}
	}
}

func failFast(_ error, state AttemptState) Decision {
	return Decision{Next: state}
}
