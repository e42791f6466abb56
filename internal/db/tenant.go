package db

import (
	"context"
	"fmt"
	"time"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

// Session variables read by the row-level security policies. SET cannot take
// bind parameters, so values go through set_config with is_local=false.
const (
	setTenantSQL = "SELECT set_config('app.current_tenant_id', $1, false)"
	setUserSQL   = "SELECT set_config('app.current_user_id', $1, false)"
	setRoleSQL   = "SELECT set_config('app.current_role', $1, false)"
)

var resetSQL = []string{
	"RESET app.current_tenant_id",
	"RESET app.current_user_id",
	"RESET app.current_role",
}

const resetTimeout = 5 * time.Second

// withTenantScope runs fn on conn with the tenant's session variables applied and
// hands conn back to the pool afterwards. The variables are reset on every exit
// path, including cancellation and panics; a connection whose reset fails is
// discarded so it can never serve another tenant. A nil tenant runs fn unscoped.
func withTenantScope(ctx context.Context, conn Conn, tenant *models.TenantContext, fn func(Conn) error) error {
	if tenant == nil {
		defer conn.Release()
		return fn(conn)
	}

	if err := applyTenant(ctx, conn, tenant); err != nil {
		// The variables may be half applied; don't trust this connection.
		discard(conn, "tenant_setup")
		return fmt.Errorf("%w: %w", ErrTenantContext, err)
	}

	defer func() {
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resetTimeout)
		defer cancel()
		for _, stmt := range resetSQL {
			if rerr := conn.Exec(resetCtx, stmt); rerr != nil {
				logging.Ctx(ctx).Warn().Err(rerr).Str("tenant_id", tenant.TenantID).Msg("Failed to reset tenant context, discarding connection")
				discard(conn, "tenant_reset")
				return
			}
		}
		conn.Release()
	}()

	return fn(conn)
}

func applyTenant(ctx context.Context, conn Conn, tenant *models.TenantContext) error {
	if err := conn.Exec(ctx, setTenantSQL, tenant.TenantID); err != nil {
		return fmt.Errorf("set tenant id: %w", err)
	}
	if tenant.UserID != "" {
		if err := conn.Exec(ctx, setUserSQL, tenant.UserID); err != nil {
			return fmt.Errorf("set user id: %w", err)
		}
	}
	if tenant.Role != "" {
		if err := conn.Exec(ctx, setRoleSQL, tenant.Role); err != nil {
			return fmt.Errorf("set user role: %w", err)
		}
	}
	return nil
}

func discard(conn Conn, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()
	conn.Discard(ctx)
	metrics.DBConnectionDiscards.WithLabelValues(reason).Inc()
}
