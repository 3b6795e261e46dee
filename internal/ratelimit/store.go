// Package ratelimit provides sliding-window rate limiting behind a pluggable
// store: an in-process map for a single instance, Redis when several
// instances share one limit.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the result of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // set when Allowed is false
}

// Store counts requests per key over a sliding window.
type Store interface {
	// Allow records a request for key and reports whether it fits within
	// limit requests per window. A rejected request is not recorded.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
