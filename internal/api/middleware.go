package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/HanTheDev/genie-analytics/internal/auth"
	"github.com/HanTheDev/genie-analytics/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// statusRecorder captures the response status and size for the access log.
type statusRecorder struct {
	http.ResponseWriter
	statusCode    int
	size          int
	headerWritten bool
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	if !r.headerWritten {
		r.statusCode = statusCode
		r.headerWritten = true
		r.ResponseWriter.WriteHeader(statusCode)
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.headerWritten {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += n
	return n, err
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestLogger assigns a request id and logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := logging.ContextWithRequestID(r.Context(), id)

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.statusCode).
			Int("bytes", rec.size).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

// rateLimit rejects tenants over their hourly budget. Limiter errors let the
// request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := auth.TenantFromContext(r.Context())
		if !ok || s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.limiter.Allow(r.Context(), tenant.TenantID)
		if err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Rate limit check failed, allowing request")
		}
		if !allowed {
			logging.Ctx(r.Context()).Info().Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireRole(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := auth.TenantFromContext(r.Context())
		if !ok || tenant.Role != role {
			writeError(w, http.StatusForbidden, role+" role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireOwnTenant limits {id} routes to the caller's own tenant. The admin
// role is scoped to a tenant, never global.
func requireOwnTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, ok := auth.TenantFromContext(r.Context())
		if !ok || tenant.TenantID != mux.Vars(r)["id"] {
			writeError(w, http.StatusForbidden, "tenant mismatch")
			return
		}
		next.ServeHTTP(w, r)
	})
}
