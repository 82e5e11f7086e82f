package redis

import (
	"context"
	"time"
)

// RateLimiter is a fixed-window counter: INCR, and EXPIRE on the first hit.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow counts one hit against key. When the window is exhausted it reports
// how long until the window resets. A counter that lost its expiry (a crash
// between INCR and EXPIRE) is given a fresh window rather than blocking the
// key forever.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window); err != nil {
			return false, 0, err
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := r.client.TTL(ctx, key)
	if err != nil {
		return false, window, nil
	}
	if ttl <= 0 {
		_ = r.client.Expire(ctx, key, window)
		return false, window, nil
	}
	return false, ttl, nil
}
