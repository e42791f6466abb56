package db

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/HanTheDev/genie-analytics/internal/logging"
	"github.com/HanTheDev/genie-analytics/internal/metrics"
	"github.com/HanTheDev/genie-analytics/internal/models"
)

// Param is one positional argument to a stored function. Name is informational;
// values are bound in slice order.
type Param struct {
	Name  string
	Value any
}

var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Execute runs sql with positional args. With a non-nil tenant the query runs
// under that tenant's session variables and is retried on transient failures.
func (c *Client) Execute(ctx context.Context, sql string, args []any, tenant *models.TenantContext) ([]models.Row, error) {
	return c.run(ctx, "execute", sql, args, tenant)
}

// CallFunction invokes a set-returning function as SELECT * FROM name($1, ...).
func (c *Client) CallFunction(ctx context.Context, name string, params []Param, tenant *models.TenantContext) ([]models.Row, error) {
	sql, args, err := buildFunctionCall(name, params)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, "call_function", sql, args, tenant)
}

func buildFunctionCall(name string, params []Param) (string, []any, error) {
	if !functionName.MatchString(name) {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidFunction, name)
	}
	ident := pgx.Identifier(strings.Split(name, ".")).Sanitize()

	placeholders := make([]string, len(params))
	args := make([]any, len(params))
	for i, p := range params {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = p.Value
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", ident, strings.Join(placeholders, ", ")), args, nil
}

func (c *Client) run(ctx context.Context, op, sql string, args []any, tenant *models.TenantContext) ([]models.Row, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if tenant != nil && strings.TrimSpace(tenant.TenantID) == "" {
		return nil, ErrInvalidTenant
	}

	start := time.Now()
	defer func() {
		metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var rows []models.Row
	err := c.withRetry(ctx, op, func(ctx context.Context) error {
		var err error
		rows, err = c.queryOnce(ctx, sql, args, tenant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// withRetry makes at most maxRetries attempts, sleeping retryBase * 2^attempt
// between them. Only errors classified as transient are retried.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBase * time.Duration(1<<attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w (last error: %w)", ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		err := classify(fn(ctx))
		if err == nil {
			metrics.DBQueryAttempts.WithLabelValues(op, "success").Inc()
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrTransient) {
			metrics.DBQueryAttempts.WithLabelValues(op, "permanent").Inc()
			return err
		}
		metrics.DBQueryAttempts.WithLabelValues(op, "transient").Inc()
		if ctx.Err() != nil {
			return err
		}
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt+1).
			Int("max_attempts", c.maxRetries).
			Msg("Transient database error, retrying")
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, c.maxRetries, lastErr)
}

func (c *Client) queryOnce(ctx context.Context, sql string, args []any, tenant *models.TenantContext) ([]models.Row, error) {
	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	var rows []models.Row
	err = withTenantScope(ctx, conn, tenant, func(conn Conn) error {
		var qerr error
		rows, qerr = conn.Query(ctx, sql, args...)
		return qerr
	})
	return rows, err
}
