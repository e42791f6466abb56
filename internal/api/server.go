// Package api exposes the analytics engine over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HanTheDev/genie-analytics/internal/auth"
	"github.com/HanTheDev/genie-analytics/internal/db"
	"github.com/HanTheDev/genie-analytics/internal/genie"
	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

const maxBodyBytes = 64 << 10

type HealthChecker interface {
	Health(ctx context.Context) db.HealthReport
	MissingTables(ctx context.Context, expected []string) ([]string, error)
}

type Limiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

type CacheInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) (int64, error)
}

type Profiler interface {
	Profiles() models.ProfileSet
}

// Options wires the server. Limiter and Cache may be nil.
type Options struct {
	Engine   *genie.Engine
	Health   HealthChecker
	Profiles Profiler
	Auth     *auth.Middleware
	Limiter  Limiter
	Cache    CacheInvalidator
}

type Server struct {
	engine   *genie.Engine
	health   HealthChecker
	profiles Profiler
	auth     *auth.Middleware
	limiter  Limiter
	cache    CacheInvalidator
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewServer(opts Options) *Server {
	return &Server{
		engine:   opts.Engine,
		health:   opts.Health,
		profiles: opts.Profiles,
		auth:     opts.Auth,
		limiter:  opts.Limiter,
		cache:    opts.Cache,
	}
}

// Routes builds the router. /health and /metrics are unauthenticated.
func (s *Server) Routes() http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(s.auth.Authenticate, s.rateLimit)
	v1.HandleFunc("/genie/query", s.handleQuery).Methods(http.MethodPost)
	v1.HandleFunc("/genie/stream", s.handleStream).Methods(http.MethodPost)
	v1.HandleFunc("/genie/suggestions", s.handleSuggestions).Methods(http.MethodGet)
	v1.HandleFunc("/classify", s.handleClassify).Methods(http.MethodPost)

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(s.auth.Authenticate, func(next http.Handler) http.Handler { return requireRole("admin", next) })
	admin.HandleFunc("/profiles", s.handleProfiles).Methods(http.MethodGet)
	admin.Handle("/tenants/{id}/history", requireOwnTenant(http.HandlerFunc(s.handleTenantHistory))).Methods(http.MethodGet)
	admin.Handle("/tenants/{id}/history", requireOwnTenant(http.HandlerFunc(s.handleClearTenant))).Methods(http.MethodDelete)

	return router
}

type queryBody struct {
	Question   string `json:"question" validate:"required,max=2000"`
	CampaignID string `json:"campaign_id" validate:"max=128"`
	Channel    string `json:"channel" validate:"max=64"`
	SkipCache  bool   `json:"skip_cache"`
}

func (b queryBody) request(tenant models.TenantContext) genie.QueryRequest {
	return genie.QueryRequest{
		Question:   b.Question,
		Tenant:     tenant,
		CampaignID: b.CampaignID,
		Channel:    b.Channel,
		SkipCache:  b.SkipCache,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if !decode(w, r, &body) {
		return
	}
	tenant, _ := auth.TenantFromContext(r.Context())

	ans, err := s.engine.AnswerQuery(r.Context(), body.request(tenant))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

type classifyBody struct {
	Question string `json:"question" validate:"max=2000"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var body classifyBody
	if !decode(w, r, &body) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Classify(body.Question))
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": s.engine.Suggestions(q),
		"examples":    s.engine.Catalog().Examples,
	})
}

type healthResponse struct {
	Status        string          `json:"status"`
	Catalog       string          `json:"catalog"`
	Database      db.HealthReport `json:"database"`
	MissingTables []string        `json:"missing_tables,omitempty"`
}

// handleHealth is 503 only when the database is unreachable; missing
// analytics tables report degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Health(r.Context())
	resp := healthResponse{Status: "healthy", Catalog: s.engine.Catalog().Name, Database: report}
	if !report.Connected {
		resp.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	missing, err := s.health.MissingTables(r.Context(), s.engine.Catalog().TableNames())
	switch {
	case err != nil:
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Table check failed")
		resp.Status = "degraded"
	case len(missing) > 0:
		resp.Status = "degraded"
		resp.MissingTables = missing
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.profiles.Profiles())
}

func (s *Server) handleTenantHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": id,
		"users":     s.engine.Histories().Tenant(id),
	})
}

func (s *Server) handleClearTenant(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sessions := s.engine.Histories().ClearTenant(id)

	var answers int64
	if s.cache != nil {
		n, err := s.cache.InvalidateTenant(r.Context(), id)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("target_tenant", id).Msg("Cached answers not cleared")
		}
		answers = n
	}
	logging.Ctx(r.Context()).Info().
		Str("target_tenant", id).
		Int("sessions", sessions).
		Int64("answers", answers).
		Msg("Tenant history cleared")
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":        id,
		"cleared_sessions": sessions,
		"cleared_answers":  answers,
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, genie.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Msg("Unexpected engine error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
