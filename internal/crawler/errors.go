package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedResponse reports a catalog response that could not be decoded.
var ErrMalformedResponse = errors.New("malformed catalog response")

// RateLimitError is returned when the catalog answers with an explicit throttling signal.
type RateLimitError struct {
	RetryAfter time.Duration
	HasHint    bool
}

func (e *RateLimitError) Error() string {
	if e.HasHint {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

// StatusError is returned for non-success HTTP statuses other than throttling.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// ParseRetryAfter reads a Retry-After header given either as delay seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	wait := when.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}
