package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
)

// Client is the subset of redis commands the limiter uses.
type Client interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimiter counts requests per tenant in fixed one-hour windows shared by
// every replica through redis.
type RateLimiter struct {
	client Client
	limit  int
	now    func() time.Time
}

// NewRateLimiter allows limit requests per tenant per hour. A limit of 0
// disables limiting.
func NewRateLimiter(client Client, limit int) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, now: time.Now}
}

func (rl *RateLimiter) key(tenantID string) string {
	return fmt.Sprintf("ratelimit:tenant:%s:%s", tenantID, rl.now().UTC().Format("2006-01-02-15"))
}

// Allow reports whether tenantID may make another request. Redis errors are
// returned alongside allowed=true so callers fail open.
func (rl *RateLimiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	if rl.limit <= 0 {
		return true, nil
	}
	key := rl.key(tenantID)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("rate limit counter: %w", err)
	}
	if count == 1 {
		if err := rl.client.Expire(ctx, key, time.Hour).Err(); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("Failed to set rate limit window expiry")
		}
	}

	if count > int64(rl.limit) {
		metrics.RateLimitRejections.Inc()
		return false, nil
	}
	return true, nil
}

func (rl *RateLimiter) Limit() int {
	return rl.limit
}
