package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Genie pipeline
	GenieQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genie_queries_total",
			Help: "Answered questions by terminal state and complexity tier",
		},
		[]string{"state", "tier"},
	)

	GenieQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genie_query_duration_seconds",
			Help:    "End-to-end answer latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"state"},
	)

	// Completion provider
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completion_requests_total",
			Help: "Completion provider calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	CompletionCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_estimated_cost_total",
			Help: "Estimated completion spend by tier",
		},
		[]string{"tier"},
	)

	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Tokens reported by the completion provider",
		},
		[]string{"model"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llm_circuit_breaker_state",
			Help: "Breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_circuit_breaker_transitions_total",
			Help: "Breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Database
	DBQueryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_attempts_total",
			Help: "Query attempts by outcome (success, transient, permanent)",
		},
		[]string{"operation", "outcome"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of tenant-scoped queries including session scoping",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBConnectionDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_connection_discards_total",
			Help: "Connections discarded instead of released, by reason",
		},
		[]string{"reason"},
	)

	// Answer cache and rate limiting
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genie_answer_cache_hits_total",
			Help: "Answers served from the tenant answer cache",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genie_answer_cache_misses_total",
			Help: "Answer cache lookups that missed",
		},
	)

	RateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "genie_rate_limit_rejections_total",
			Help: "Requests rejected by the per-tenant rate limiter",
		},
	)
)
