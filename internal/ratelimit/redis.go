package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/x402proto/facilitator/internal/cache"
)

// RedisLimiter implements a fixed-window counter rate limiter backed by
// Redis, shared across every facilitator instance behind the same
// Redis deployment.
type RedisLimiter struct {
	cache    *cache.Client
	requests int
	window   time.Duration
	prefix   string
}

// NewRedisLimiter builds a RedisLimiter allowing up to requests calls
// per window, per key.
func NewRedisLimiter(cache *cache.Client, requests int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		cache:    cache,
		requests: requests,
		window:   window,
		prefix:   "ratelimit:",
	}
}

// Allow increments key's counter and reports whether it is still
// within the configured window limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, Info, error) {
	redisKey := l.prefix + key

	count, err := l.cache.Incr(ctx, redisKey)
	if err != nil {
		return false, Info{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	if count == 1 {
		if err := l.cache.Expire(ctx, redisKey, l.window); err != nil {
			return false, Info{}, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}

	ttl, err := l.cache.TTL(ctx, redisKey)
	if err != nil {
		ttl = l.window
	}

	info := Info{
		Limit:     l.requests,
		Remaining: max(0, l.requests-int(count)),
		Reset:     time.Now().Add(ttl),
	}

	if int(count) > l.requests {
		return false, info, nil
	}

	return true, info, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
