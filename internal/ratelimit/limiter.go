// Package ratelimit rate-limits facilitator HTTP traffic by client IP.
package ratelimit

import (
	"context"
	"time"
)

// Info describes the rate limit state for the key a request was
// checked against.
type Info struct {
	Limit     int       // Maximum requests allowed per window.
	Remaining int       // Remaining requests in the current window.
	Reset     time.Time // When the window resets.
}

// Limiter decides whether a request identified by key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, Info, error)
}
