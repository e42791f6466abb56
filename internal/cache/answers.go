// Package cache keeps finished analytics answers in redis, one keyspace per
// tenant. Lookups that fail for any reason count as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

const (
	keyPrefix  = "genie:answer:"
	DefaultTTL = 10 * time.Minute
	scanBatch  = 200
)

// Client is the subset of redis commands the cache uses. *redis.Client
// satisfies it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

type AnswerCache struct {
	client Client
	ttl    time.Duration
}

func NewAnswerCache(client Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AnswerCache{client: client, ttl: ttl}
}

// NewClient parses a redis:// URL and checks the server answers.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Key is tenant-prefixed so a tenant's answers can be dropped together. The
// user, role and normalized question are hashed because the role changes what
// row-level security lets the query see.
func Key(tenant models.TenantContext, question string) string {
	sum := sha256.Sum256([]byte(tenant.UserID + "\x00" + tenant.Role + "\x00" + normalize(question)))
	return fmt.Sprintf("%s%s:%x", keyPrefix, tenant.TenantID, sum)
}

func normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func (c *AnswerCache) Get(ctx context.Context, tenant models.TenantContext, question string) (*models.AnalyticsAnswer, bool) {
	raw, err := c.client.Get(ctx, Key(tenant, question)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Ctx(ctx).Warn().Err(err).Msg("Answer cache lookup failed")
		}
		metrics.CacheMisses.Inc()
		return nil, false
	}

	var ans models.AnalyticsAnswer
	if err := json.Unmarshal(raw, &ans); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Discarding undecodable cached answer")
		metrics.CacheMisses.Inc()
		return nil, false
	}
	metrics.CacheHits.Inc()
	return &ans, true
}

// Set stores answer best-effort; a failed write is logged and ignored.
func (c *AnswerCache) Set(ctx context.Context, tenant models.TenantContext, question string, answer *models.AnalyticsAnswer) {
	raw, err := json.Marshal(answer)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Answer not cacheable")
		return
	}
	if err := c.client.Set(ctx, Key(tenant, question), raw, c.ttl).Err(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Answer cache write failed")
	}
}

// InvalidateTenant removes every cached answer of tenantID and returns how
// many keys were deleted.
func (c *AnswerCache) InvalidateTenant(ctx context.Context, tenantID string) (int64, error) {
	match := keyPrefix + escapeGlob(tenantID) + ":*"
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan cached answers: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete cached answers: %w", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
