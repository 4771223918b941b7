package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"dns", &net.DNSError{Err: "no such host", Name: "catalog.invalid", IsNotFound: true}, CategoryTransient},
		{"wrapped dns", fmt.Errorf("post: %w", &net.DNSError{Err: "no such host"}), CategoryTransient},
		{"etimedout", &net.OpError{Op: "dial", Err: syscall.ETIMEDOUT}, CategoryTransient},
		{"econnreset", fmt.Errorf("read: %w", syscall.ECONNRESET), CategoryTransient},
		{"net timeout", timeoutErr{}, CategoryTransient},
		{"rate limit", &RateLimitError{}, CategoryRateLimited},
		{"status 429", &StatusError{Code: 429}, CategoryRateLimited},
		{"status 500", &StatusError{Code: 500}, CategoryUnclassified},
		{"malformed", fmt.Errorf("decode: %w", ErrMalformedResponse), CategoryUnclassified},
		{"canceled", context.Canceled, CategoryUnclassified},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), CategoryTransient},
		{"plain", errors.New("boom"), CategoryUnclassified},
		{"nil", nil, CategoryUnclassified},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryPolicy_TransientBackoffIsBounded(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{})
	err := &net.DNSError{Err: "no such host"}

	var state AttemptState
	var delays []time.Duration
	for {
		decision := policy.Decide(err, state)
		require.Equal(t, CategoryTransient, decision.Category)
		if !decision.Retry {
			break
		}
		delays = append(delays, decision.Delay)
		state = decision.Next
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	require.Equal(t, 3, state.Transient)
}

func TestRetryPolicy_RateLimitUsesHintOrDefault(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{})

	hinted := policy.Decide(&RateLimitError{RetryAfter: 7 * time.Second, HasHint: true}, AttemptState{})
	require.True(t, hinted.Retry)
	require.Equal(t, 7*time.Second, hinted.Delay)
	require.Equal(t, 1, hinted.Next.RateLimited)

	bare := policy.Decide(&StatusError{Code: 429}, hinted.Next)
	require.True(t, bare.Retry)
	require.Equal(t, 30*time.Second, bare.Delay)
	require.Equal(t, 2, bare.Next.RateLimited)
}

func TestRetryPolicy_RateLimitIsUnboundedByDefault(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{})
	state := AttemptState{}
	for i := 0; i < 500; i++ {
		decision := policy.Decide(&RateLimitError{}, state)
		require.True(t, decision.Retry, "attempt %d", i)
		state = decision.Next
	}
	require.Equal(t, 500, state.RateLimited)
}

func TestRetryPolicy_RateLimitCeiling(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{MaxRateLimitRetries: 2})
	state := AttemptState{RateLimited: 2}
	decision := policy.Decide(&RateLimitError{}, state)
	require.False(t, decision.Retry)
	require.Equal(t, CategoryRateLimited, decision.Category)
}

func TestRetryPolicy_UnclassifiedNeverRetries(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{})
	decision := policy.Decide(&StatusError{Code: 503}, AttemptState{})
	require.False(t, decision.Retry)
	require.Equal(t, CategoryUnclassified, decision.Category)
}

func TestRetryPolicy_WithStrategyOverridesCategory(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(RetryConfig{}).WithStrategy(CategoryUnclassified, func(_ error, s AttemptState) Decision {
		return Decision{Retry: true, Delay: time.Millisecond, Next: s}
	})
	decision := policy.Decide(errors.New("boom"), AttemptState{})
	require.True(t, decision.Retry)
	require.Equal(t, time.Millisecond, decision.Delay)
	require.Equal(t, CategoryUnclassified, decision.Category)
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	d, ok := ParseRetryAfter("12", now)
	require.True(t, ok)
	require.Equal(t, 12*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	require.True(t, ok)
	require.Equal(t, 90*time.Second, d)

	_, ok = ParseRetryAfter("", now)
	require.False(t, ok)
	_, ok = ParseRetryAfter("-3", now)
	require.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	require.False(t, ok)
}
