package models

import "time"

// TenantContext scopes a single database session for row-level security.
// It is built per request and never cached past one query.
type TenantContext struct {
	TenantID string `json:"tenant_id" validate:"required"`
	UserID   string `json:"user_id,omitempty"`
	Role     string `json:"role,omitempty"`
}

type ComplexityTier string

const (
	TierSimple  ComplexityTier = "simple"
	TierMedium  ComplexityTier = "medium"
	TierComplex ComplexityTier = "complex"
)

// Tiers lists every tier from cheapest to most expensive.
var Tiers = []ComplexityTier{TierSimple, TierMedium, TierComplex}

func (t ComplexityTier) Valid() bool {
	switch t {
	case TierSimple, TierMedium, TierComplex:
		return true
	}
	return false
}

type ExecutionProfile struct {
	ModelID      string  `json:"model_id" koanf:"model_id" validate:"required"`
	Temperature  float64 `json:"temperature" koanf:"temperature" validate:"gte=0,lte=1"`
	MaxTokens    int     `json:"max_tokens" koanf:"max_tokens" validate:"gt=0"`
	CostPerToken float64 `json:"cost_per_token" koanf:"cost_per_token" validate:"gte=0"`
}

type ClassificationResult struct {
	Tier       ComplexityTier   `json:"tier"`
	Confidence float64          `json:"confidence"`
	Reasoning  string           `json:"reasoning"`
	Profile    ExecutionProfile `json:"profile"`
}

type ChartType string

const (
	ChartBar    ChartType = "bar"
	ChartLine   ChartType = "line"
	ChartPie    ChartType = "pie"
	ChartTable  ChartType = "table"
	ChartFunnel ChartType = "funnel"
	ChartTrend  ChartType = "trend"
)

// Row is one record returned by the database, keyed by column name.
type Row = map[string]any

// AnswerState names the terminal state the pipeline finished in.
type AnswerState string

const (
	StateDone            AnswerState = "done"
	StateDegradedWithSQL AnswerState = "degraded_with_sql"
	StateTextualOnly     AnswerState = "textual_only"
)

type Anomaly struct {
	Row    int     `json:"row"`
	Column string  `json:"column"`
	Value  float64 `json:"value"`
	ZScore float64 `json:"z_score"`
}

type AnalyticsAnswer struct {
	Answer           string         `json:"answer"`
	SQL              string         `json:"sql,omitempty"`
	ChartType        ChartType      `json:"chart_type,omitempty"`
	Rows             []Row          `json:"rows,omitempty"`
	RowCount         int            `json:"row_count"`
	Confidence       float64        `json:"confidence"`
	Tier             ComplexityTier `json:"tier"`
	ModelUsed        string         `json:"model_used"`
	EstimatedCost    float64        `json:"estimated_cost"`
	CostReliable     bool           `json:"cost_reliable"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	DerivedMetric    *float64       `json:"derived_metric,omitempty"`
	Anomalies        []Anomaly      `json:"anomalies,omitempty"`
	SuggestedQueries []string       `json:"suggested_queries"`
	State            AnswerState    `json:"state"`
	TenantID         string         `json:"tenant_id"`
	Cached           bool           `json:"cached,omitempty"`
}

// HistoryEntry is one question/answer turn kept for follow-up context.
type HistoryEntry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// ProfileSet is the static tier -> profile table, read-only after startup.
type ProfileSet struct {
	Simple  ExecutionProfile `json:"simple" koanf:"simple"`
	Medium  ExecutionProfile `json:"medium" koanf:"medium"`
	Complex ExecutionProfile `json:"complex" koanf:"complex"`
}

// For returns the profile of a tier; unknown tiers get the medium profile.
func (p ProfileSet) For(t ComplexityTier) ExecutionProfile {
	switch t {
	case TierSimple:
		return p.Simple
	case TierComplex:
		return p.Complex
	default:
		return p.Medium
	}
}
