// Package genie answers natural-language analytics questions for one tenant by
// generating SQL, running it under the tenant's row-level security scope and
// narrating the result. Every well-formed request ends in an answer: when the
// database or the provider fails, the pipeline degrades instead of erroring.
package genie

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/HanTheDev/genie-analytics/internal/db"
	"github.com/HanTheDev/genie-analytics/internal/interpret"
	"github.com/HanTheDev/genie-analytics/internal/llm"
	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

const (
	executeFunction = "execute_sql_simple"

	confidenceDone       = 0.9
	confidenceUnnarrated = 0.7
	confidenceDegraded   = 0.6
	confidenceNoSQLRun   = 0.4

	defaultExplanation = "Here are the results for your question."
	degradedFallback   = "I generated SQL for this question but could not run it."
	degradedApology    = "I generated SQL for this question but could not run it. Please try rephrasing your question."
	textualApology     = "I ran into a problem answering this question. Please try rephrasing it."
)

var ErrInvalidRequest = errors.New("invalid query request")

// Completer is the routed completion surface the engine needs.
type Completer interface {
	Classify(question string) models.ClassificationResult
	CompleteClassified(ctx context.Context, cls models.ClassificationResult, system, user string) (*llm.Completion, error)
	Stream(ctx context.Context, cls models.ClassificationResult, system, user string) (*llm.Streaming, error)
}

// Executor runs tenant-scoped SQL.
type Executor interface {
	Execute(ctx context.Context, sql string, args []any, tenant *models.TenantContext) ([]models.Row, error)
	CallFunction(ctx context.Context, name string, params []db.Param, tenant *models.TenantContext) ([]models.Row, error)
}

// AnswerCache stores finished answers per tenant identity and question.
type AnswerCache interface {
	Get(ctx context.Context, tenant models.TenantContext, question string) (*models.AnalyticsAnswer, bool)
	Set(ctx context.Context, tenant models.TenantContext, question string, answer *models.AnalyticsAnswer)
}

type Timeouts struct {
	Completion time.Duration
	Query      time.Duration
}

type Deps struct {
	Router   Completer
	DB       Executor
	Catalog  Catalog
	History  *HistoryStore
	Cache    AnswerCache
	Timeouts Timeouts
	// Now defaults to time.Now.
	Now func() time.Time
}

type QueryRequest struct {
	Question   string               `json:"question" validate:"required,max=2000"`
	Tenant     models.TenantContext `json:"tenant"`
	CampaignID string               `json:"campaign_id,omitempty" validate:"max=128"`
	Channel    string               `json:"channel,omitempty" validate:"max=64"`
	// History overrides the per-user history kept by the engine.
	History   *History `json:"-"`
	SkipCache bool     `json:"skip_cache,omitempty"`
}

type Engine struct {
	router   Completer
	db       Executor
	catalog  Catalog
	history  *HistoryStore
	cache    AnswerCache
	timeouts Timeouts
	now      func() time.Time
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func New(deps Deps) *Engine {
	e := &Engine{
		router:   deps.Router,
		db:       deps.DB,
		catalog:  deps.Catalog,
		history:  deps.History,
		cache:    deps.Cache,
		timeouts: deps.Timeouts,
		now:      deps.Now,
	}
	if e.catalog.Name == "" {
		e.catalog = CampaignCatalog()
	}
	if e.history == nil {
		e.history = NewHistoryStore(DefaultHistoryCap)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Catalog() Catalog { return e.catalog }

func (e *Engine) Histories() *HistoryStore { return e.history }

// Classify exposes the router's classification of question.
func (e *Engine) Classify(question string) models.ClassificationResult {
	return e.router.Classify(question)
}

// Suggestions returns the catalog's follow-up questions for question.
func (e *Engine) Suggestions(question string) []string {
	return e.catalog.Suggestions(question)
}

// AnswerQuery runs the full pipeline. The only error it returns is
// ErrInvalidRequest; every other failure is folded into a degraded answer.
func (e *Engine) AnswerQuery(ctx context.Context, req QueryRequest) (*models.AnalyticsAnswer, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start := e.now()
	ctx = logging.ContextWithTenant(ctx, req.Tenant.TenantID)
	question := contextualQuestion(req)

	history := req.History
	if history == nil {
		history = e.history.For(req.Tenant)
	}

	useCache := e.cache != nil && !req.SkipCache && req.History == nil
	if useCache {
		if cached, ok := e.cache.Get(ctx, req.Tenant, question); ok {
			cached.Cached = true
			cached.TenantID = req.Tenant.TenantID
			cached.ExecutionTimeMs = e.now().Sub(start).Milliseconds()
			history.Add(req.Question, cached.Answer, e.now())
			metrics.GenieQueries.WithLabelValues(string(cached.State), string(cached.Tier)).Inc()
			return cached, nil
		}
	}

	r := &run{
		engine:   e,
		tenant:   req.Tenant,
		question: question,
		cls:      e.router.Classify(question),
		history:  history,
	}
	ans := r.generateSQL(ctx)

	r.tally.apply(ans, r.cls)
	ans.TenantID = req.Tenant.TenantID
	if len(ans.SuggestedQueries) == 0 {
		ans.SuggestedQueries = e.catalog.Suggestions(req.Question)
	}
	elapsed := e.now().Sub(start)
	ans.ExecutionTimeMs = elapsed.Milliseconds()

	// Zero-confidence apologies are not follow-up context.
	if ans.Confidence > 0 {
		history.Add(req.Question, ans.Answer, e.now())
	}
	metrics.GenieQueries.WithLabelValues(string(ans.State), string(ans.Tier)).Inc()
	metrics.GenieQueryDuration.WithLabelValues(string(ans.State)).Observe(elapsed.Seconds())
	logging.Ctx(ctx).Info().
		Str("state", string(ans.State)).
		Str("tier", string(ans.Tier)).
		Str("model", ans.ModelUsed).
		Int("rows", ans.RowCount).
		Float64("estimated_cost", ans.EstimatedCost).
		Dur("duration", elapsed).
		Msg("Question answered")

	if useCache && ans.State == models.StateDone {
		e.cache.Set(ctx, req.Tenant, question, ans)
	}
	return ans, nil
}

// contextualQuestion prefixes the campaign and channel filters onto the
// question unless it already names them.
func contextualQuestion(req QueryRequest) string {
	q := strings.TrimSpace(req.Question)
	lower := strings.ToLower(q)
	var scope []string
	if req.CampaignID != "" && !strings.Contains(lower, strings.ToLower(req.CampaignID)) {
		scope = append(scope, "campaign "+req.CampaignID)
	}
	if req.Channel != "" && !strings.Contains(lower, strings.ToLower(req.Channel)) {
		scope = append(scope, "channel "+req.Channel)
	}
	if len(scope) == 0 {
		return q
	}
	return "For " + strings.Join(scope, " on ") + ": " + q
}

// run carries one request through the states. Its methods are called strictly
// in sequence.
type run struct {
	engine   *Engine
	tenant   models.TenantContext
	question string
	cls      models.ClassificationResult
	history  *History
	tally    tally
}

func (r *run) generateSQL(ctx context.Context) *models.AnalyticsAnswer {
	c := r.engine.catalog
	cmp, err := r.complete(ctx, c.sqlSystemPrompt(), sqlUserPrompt(r.question))
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("SQL generation failed, answering without data")
		return r.textualOnly(ctx)
	}
	sql := CleanSQL(cmp.Text)
	if sql == "" {
		return r.textualOnly(ctx)
	}
	if err := ValidateSQL(sql); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("sql", logging.Truncate(sql, 200)).Msg("Generated SQL rejected")
		return r.degraded(ctx, sql)
	}
	return r.execute(ctx, sql)
}

func (r *run) execute(ctx context.Context, sql string) *models.AnalyticsAnswer {
	rows, err := r.query(ctx, sql)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("sql", logging.Truncate(sql, 200)).Msg("SQL execution failed, degrading")
		return r.degraded(ctx, sql)
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return r.explain(ctx, sql, rows)
}

// query prefers the server-side function and runs the statement directly
// only when that function does not exist.
func (r *run) query(ctx context.Context, sql string) ([]models.Row, error) {
	e := r.engine
	if e.timeouts.Query > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeouts.Query)
		defer cancel()
	}
	tenant := r.tenant

	rows, err := e.db.CallFunction(ctx, executeFunction, []db.Param{{Name: "sql_query", Value: sql}}, &tenant)
	if err == nil {
		return unwrapFunctionRows(rows), nil
	}
	if !errors.Is(err, db.ErrFunctionNotFound) {
		return nil, err
	}
	logging.Ctx(ctx).Debug().Msg(executeFunction + " unavailable, executing SQL directly")
	return e.db.Execute(ctx, sql, nil, &tenant)
}

// unwrapFunctionRows flattens the json result of the execute function, which
// arrives as one column holding an array of objects or one object per row.
func unwrapFunctionRows(rows []models.Row) []models.Row {
	var out []models.Row
	for _, row := range rows {
		v, ok := row[executeFunction]
		if !ok || len(row) != 1 {
			return rows
		}
		switch val := v.(type) {
		case nil:
		case map[string]any:
			out = append(out, val)
		case []any:
			for _, item := range val {
				obj, ok := item.(map[string]any)
				if !ok {
					return rows
				}
				out = append(out, obj)
			}
		default:
			return rows
		}
	}
	if out == nil {
		out = []models.Row{}
	}
	return out
}

func (r *run) explain(ctx context.Context, sql string, rows []models.Row) *models.AnalyticsAnswer {
	c := r.engine.catalog
	cmp, err := r.complete(ctx, c.analystSystemPrompt(), explainUserPrompt(r.question, rows))
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Result narration failed")
	} else if text := strings.TrimSpace(cmp.Text); text != "" {
		return r.interpret(sql, rows, text)
	}
	ans := r.interpret(sql, rows, defaultExplanation)
	ans.Confidence = confidenceUnnarrated
	return ans
}

func (r *run) interpret(sql string, rows []models.Row, answer string) *models.AnalyticsAnswer {
	c := r.engine.catalog
	ans := &models.AnalyticsAnswer{
		Answer:     answer,
		SQL:        sql,
		ChartType:  interpret.SuggestChartType(rows, r.question),
		Rows:       rows,
		RowCount:   len(rows),
		Confidence: confidenceDone,
		Anomalies:  interpret.DetectAnomalies(rows, interpret.DefaultZThreshold),
		State:      models.StateDone,
	}
	if c.Metric != nil {
		if v, ok := c.Metric.Compute(rows); ok {
			ans.DerivedMetric = &v
		}
	}
	return ans
}

// degraded never carries rows.
func (r *run) degraded(ctx context.Context, sql string) *models.AnalyticsAnswer {
	c := r.engine.catalog
	cmp, err := r.complete(ctx, c.analystSystemPrompt(), degradedUserPrompt(r.question, sql))
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Degraded narration failed")
		return &models.AnalyticsAnswer{
			Answer:           degradedApology,
			SQL:              sql,
			Confidence:       confidenceNoSQLRun,
			SuggestedQueries: firstN(c.DefaultSuggestions, suggestionCount),
			State:            models.StateDegradedWithSQL,
		}
	}
	answer := strings.TrimSpace(cmp.Text)
	if answer == "" {
		answer = degradedFallback
	}
	return &models.AnalyticsAnswer{
		Answer:     answer,
		SQL:        sql,
		Confidence: confidenceDegraded,
		State:      models.StateDegradedWithSQL,
	}
}

func (r *run) textualOnly(ctx context.Context) *models.AnalyticsAnswer {
	c := r.engine.catalog
	cmp, err := r.complete(ctx, c.textualSystemPrompt(), textualUserPrompt(r.question, r.history.Recent(followUpTurns)))
	if err != nil || strings.TrimSpace(cmp.Text) == "" {
		logging.Ctx(ctx).Error().Err(err).Msg("Textual answer failed")
		return &models.AnalyticsAnswer{
			Answer:           textualApology,
			Confidence:       0,
			SuggestedQueries: firstN(c.DefaultSuggestions, suggestionCount),
			State:            models.StateTextualOnly,
		}
	}
	reply := parseTextual(cmp.Text)
	ans := &models.AnalyticsAnswer{
		Answer:     reply.Answer,
		ChartType:  reply.chart(),
		Confidence: reply.confidence(),
		State:      models.StateTextualOnly,
	}
	if len(reply.SuggestedQueries) >= suggestionCount {
		ans.SuggestedQueries = firstN(reply.SuggestedQueries, suggestionCount)
	}
	return ans
}

func (r *run) complete(ctx context.Context, system, user string) (*llm.Completion, error) {
	if t := r.engine.timeouts.Completion; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	cmp, err := r.engine.router.CompleteClassified(ctx, r.cls, system, user)
	if err != nil {
		return nil, err
	}
	r.tally.add(cmp)
	return cmp, nil
}

// tally sums the cost of every completion one answer needed.
type tally struct {
	calls      int
	cost       float64
	unreliable bool
	tier       models.ComplexityTier
	model      string
}

func (t *tally) add(c *llm.Completion) {
	t.calls++
	t.cost += c.EstimatedCost
	if !c.CostReliable {
		t.unreliable = true
	}
	t.tier = c.Tier
	t.model = c.Model
}

// apply reports the tier and model of the last completion that answered, or
// the classified tier and profile model when none did.
func (t *tally) apply(ans *models.AnalyticsAnswer, cls models.ClassificationResult) {
	ans.Tier = cls.Tier
	ans.ModelUsed = cls.Profile.ModelID
	if t.calls > 0 {
		ans.Tier = t.tier
		ans.ModelUsed = t.model
	}
	ans.EstimatedCost = t.cost
	ans.CostReliable = !t.unreliable
}
