// Package domain holds the value types and errors shared by the guard core.
package domain

import (
	"fmt"
	"time"
)

// RateLimitRule bounds how many requests fit in one fixed window.
type RateLimitRule struct {
	Requests int
	Window   time.Duration
}

// Validate reports whether the rule can be enforced.
func (r RateLimitRule) Validate() error {
	if r.Requests <= 0 {
		return NewValidationError("requests", fmt.Sprintf("must be positive, got %d", r.Requests))
	}
	if r.Window <= 0 {
		return NewValidationError("window", fmt.Sprintf("must be positive, got %s", r.Window))
	}
	return nil
}

type RateLimitRequest struct {
	Identity string
	Endpoint string
}

// Decision is the outcome of a single check-and-consume call.
// FailedOpen is set when the counter store could not be reached and the
// request was admitted without being counted.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	Limit      int
	Key        string
	FailedOpen bool
}

// RetryAfter is how long a throttled caller should wait, never negative.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Usage is a read-only view of a rate limit record.
type Usage struct {
	Key       string
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// CounterState is what the counter store reports after a consume attempt.
type CounterState struct {
	Count    int64
	Consumed bool
	TTL      time.Duration
}
