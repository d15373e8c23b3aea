package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindowLimiter counts hits per key in fixed windows stored in Redis.
type FixedWindowLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewFixedWindowLimiter allows limit hits per key per window.
func NewFixedWindowLimiter(client redis.Cmdable, prefix string, limit int, window time.Duration) *FixedWindowLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindowLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow records a hit for key and reports whether it fits in the current window.
// On Redis failure the hit is allowed and the error returned so callers can log it.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	return l.decide(incr.Val(), windowStart.Add(l.window).Sub(now)), nil
}

func (l *FixedWindowLimiter) decide(count int64, untilReset time.Duration) Decision {
	remaining := int64(l.limit) - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Limit:     l.limit,
		Remaining: int(remaining),
	}
	if !d.Allowed {
		d.RetryAfter = untilReset
	}
	return d
}
