// Package app assembles the long-lived clients from configuration. Everything
// is built once at startup and torn down by Close.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HanTheDev/genie-analytics/internal/api"
	"github.com/HanTheDev/genie-analytics/internal/auth"
	"github.com/HanTheDev/genie-analytics/internal/cache"
	"github.com/HanTheDev/genie-analytics/internal/classifier"
	"github.com/HanTheDev/genie-analytics/internal/config"
	"github.com/HanTheDev/genie-analytics/internal/db"
	"github.com/HanTheDev/genie-analytics/internal/genie"
	"github.com/HanTheDev/genie-analytics/internal/llm"
	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/ratelimit"
)

type App struct {
	Config  *config.Config
	DB      *db.Client
	Breaker *llm.BreakerProvider
	Router  *llm.Router
	Engine  *genie.Engine

	redis   *redis.Client
	cache   *cache.AnswerCache
	limiter *ratelimit.RateLimiter
}

func InitLogging(cfg *config.Config) {
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
}

func DBConfig(cfg *config.Config) db.Config {
	return db.Config{
		URL:            cfg.Database.URL,
		MaxConns:       cfg.Database.MaxConns,
		MinConns:       cfg.Database.MinConns,
		IdleTimeout:    cfg.Database.IdleTimeout,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		QueryTimeout:   cfg.Database.QueryTimeout,
		MaxRetries:     cfg.Database.MaxRetries,
		RetryBase:      cfg.Database.RetryBase,
	}
}

// New connects the database and, when enabled, redis. A redis that cannot be
// reached disables caching and rate limiting instead of failing startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	catalog, err := genie.CatalogByName(cfg.Genie.Catalog)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, DBConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{Config: cfg, DB: database}

	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		APIVersion: cfg.LLM.APIVersion,
		Azure:      cfg.LLM.Azure,
		Timeout:    cfg.LLM.RequestTimeout,
	})
	a.Breaker = llm.NewCircuitBreaker(provider, "completion", cfg.LLM.BreakerTimeout)
	a.Router = llm.NewRouter(a.Breaker, classifier.New(cfg.Profiles, nil))

	if cfg.Redis.Enabled {
		client, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			logging.Warn().Err(err).Msg("Redis unavailable, answer cache and rate limiting disabled")
		} else {
			a.redis = client
			a.cache = cache.NewAnswerCache(client, cfg.Redis.CacheTTL)
			if cfg.RateLimit.Enabled {
				a.limiter = ratelimit.NewRateLimiter(client, cfg.RateLimit.RequestsPerHour)
			}
		}
	}

	deps := genie.Deps{
		Router:  a.Router,
		DB:      database,
		Catalog: catalog,
		History: genie.NewHistoryStore(cfg.Genie.HistoryCap),
		Timeouts: genie.Timeouts{
			Completion: cfg.LLM.RequestTimeout,
			Query:      queryBudget(cfg.Database),
		},
	}
	if a.cache != nil {
		deps.Cache = a.cache
	}
	a.Engine = genie.New(deps)

	logging.Info().
		Str("catalog", catalog.Name).
		Bool("cache", a.cache != nil).
		Bool("rate_limit", a.limiter != nil).
		Str("llm_base_url", cfg.LLM.BaseURL).
		Msg("Application initialized")
	return a, nil
}

// queryBudget bounds one execution including retries and backoff.
func queryBudget(cfg config.DatabaseConfig) time.Duration {
	budget := time.Duration(cfg.MaxRetries) * cfg.QueryTimeout
	for i := 1; i < cfg.MaxRetries; i++ {
		budget += cfg.RetryBase << i
	}
	return budget
}

// Handler builds the HTTP surface over the assembled clients.
func (a *App) Handler() *api.Server {
	opts := api.Options{
		Engine:   a.Engine,
		Health:   a.DB,
		Profiles: a.Router,
		Auth:     auth.NewMiddleware(a.Config.Auth.Mode, a.Config.Auth.JWTSecret),
	}
	if a.limiter != nil {
		opts.Limiter = a.limiter
	}
	if a.cache != nil {
		opts.Cache = a.cache
	}
	return api.NewServer(opts)
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	a.DB.Close()
}
