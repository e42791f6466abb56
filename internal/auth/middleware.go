package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

type contextKey string

const tenantContextKey contextKey = "tenant"

const (
	ModeJWT    = "jwt"
	ModeHeader = "header"

	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRole     = "X-User-Role"
)

// Middleware resolves the caller's TenantContext from a bearer token or, in
// header mode, from identity headers set by a trusted upstream.
type Middleware struct {
	mode      string
	jwtSecret string
}

func NewMiddleware(mode, jwtSecret string) *Middleware {
	if mode != ModeHeader {
		mode = ModeJWT
	}
	return &Middleware{mode: mode, jwtSecret: jwtSecret}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, msg := m.resolve(r)
		if msg != "" {
			logging.Ctx(r.Context()).Debug().Str("reason", msg).Msg("Request rejected")
			http.Error(w, msg, http.StatusUnauthorized)
			return
		}

		ctx := WithTenant(r.Context(), tenant)
		ctx = logging.ContextWithTenant(ctx, tenant.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) resolve(r *http.Request) (models.TenantContext, string) {
	if m.mode == ModeHeader {
		tenant := models.TenantContext{
			TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:     strings.TrimSpace(r.Header.Get(HeaderRole)),
		}
		if tenant.TenantID == "" {
			return tenant, "Missing " + HeaderTenantID + " header"
		}
		return tenant, ""
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return models.TenantContext{}, "Missing authorization header"
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return models.TenantContext{}, "Invalid authorization header format"
	}

	claims, err := ValidateToken(parts[1], m.jwtSecret)
	if err != nil {
		return models.TenantContext{}, "Invalid token"
	}
	return claims.Tenant(), ""
}

func WithTenant(ctx context.Context, tenant models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

func TenantFromContext(ctx context.Context) (models.TenantContext, bool) {
	tenant, ok := ctx.Value(tenantContextKey).(models.TenantContext)
	return tenant, ok
}
