package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HanTheDev/genie-analytics/internal/models"
)

func newTestClient(pool *fakePool) *Client {
	return New(pool, Config{MaxRetries: 3, RetryBase: time.Millisecond, QueryTimeout: time.Second})
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

func TestNoCrossTenantLeakage(t *testing.T) {
	const (
		poolSize = 3
		requests = 60
	)
	pool := newFakePool(poolSize)
	client := newTestClient(pool)
	tenants := []string{"tenant-a", "tenant-b", "tenant-c", "tenant-d", "tenant-e"}

	type outcome struct {
		want models.TenantContext
		got  models.Row
		err  error
	}
	results := make(chan outcome, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			var tenant *models.TenantContext
			if i%7 != 0 {
				tenant = &models.TenantContext{TenantID: tenants[i%len(tenants)]}
				if i%2 == 1 {
					tenant.UserID = fmt.Sprintf("user-%d", i)
				}
				if i%3 == 1 {
					tenant.Role = "analyst"
				}
			}

			rows, err := client.Execute(context.Background(), "SELECT current_setting('app.current_tenant_id', true)", nil, tenant)
			o := outcome{err: err}
			if tenant != nil {
				o.want = *tenant
			}
			if len(rows) == 1 {
				o.got = rows[0]
			}
			results <- o
		}(i)
	}
	wg.Wait()
	close(results)

	for o := range results {
		require.NoError(t, o.err)
		require.NotNil(t, o.got)
		assert.Equal(t, o.want.TenantID, o.got["tenant"], "tenant seen by query")
		assert.Equal(t, o.want.UserID, o.got["user"], "user seen by query")
		assert.Equal(t, o.want.Role, o.got["role"], "role seen by query")
	}

	assert.Zero(t, pool.dirtyReleases, "connections returned with session variables set")
	assert.LessOrEqual(t, pool.maxInUse, poolSize)
	assert.LessOrEqual(t, len(pool.all), poolSize)
	for _, c := range pool.idle {
		assert.Empty(t, c.session(), "idle connection %d", c.id)
	}
}

func TestResetFailureDiscardsConnection(t *testing.T) {
	pool := newFakePool(1)
	pool.configure = func(c *fakeConn) {
		if c.id == 1 {
			c.failReset = true
		}
	}
	client := newTestClient(pool)

	rows, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tenant-a", rows[0]["tenant"])

	assert.Equal(t, 1, pool.discards)
	assert.Empty(t, pool.idle)
	assert.True(t, pool.all[0].discarded)

	rows, err = client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "tenant-b"})
	require.NoError(t, err)
	assert.Equal(t, 2, rows[0]["conn"], "discarded connection was handed out again")
	assert.Equal(t, "tenant-b", rows[0]["tenant"])
	assert.Zero(t, pool.dirtyReleases)
}

func TestResetRunsWhenCallerCancels(t *testing.T) {
	pool := newFakePool(1)
	ctx, cancel := context.WithCancel(context.Background())
	pool.query = func(_ context.Context, _ string, _ []any, _ models.Row) ([]models.Row, error) {
		cancel()
		return nil, context.Canceled
	}
	client := newTestClient(pool)

	_, err := client.Execute(ctx, "SELECT pg_sleep(10)", nil, &models.TenantContext{TenantID: "tenant-a", UserID: "u1"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, pool.acquireCount())
	require.Len(t, pool.idle, 1)
	assert.Empty(t, pool.idle[0].session())
	assert.Zero(t, pool.dirtyReleases)
}

func TestTenantSetupFailureFailsFast(t *testing.T) {
	pool := newFakePool(2)
	pool.configure = func(c *fakeConn) { c.failSet = true }
	client := newTestClient(pool)

	_, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "tenant-a"})
	require.ErrorIs(t, err, ErrTenantContext)
	assert.NotErrorIs(t, err, ErrTransient)

	assert.Equal(t, 1, pool.acquireCount(), "setup failures are not retried")
	assert.Equal(t, 1, pool.discards)
	assert.Empty(t, pool.queries, "query ran without tenant context")
}

func TestRetryBound(t *testing.T) {
	for _, attempts := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("%d_attempts", attempts), func(t *testing.T) {
			pool := newFakePool(1)
			pool.acquireErr = refused()
			client := New(pool, Config{MaxRetries: attempts, RetryBase: time.Millisecond})

			_, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "t"})
			require.ErrorIs(t, err, ErrTransient)
			assert.ErrorIs(t, err, syscall.ECONNREFUSED)
			assert.Equal(t, attempts, pool.acquireCount())
		})
	}
}

func TestTransientThenSuccess(t *testing.T) {
	pool := newFakePool(1)
	var calls int
	pool.query = func(_ context.Context, _ string, _ []any, session models.Row) ([]models.Row, error) {
		calls++
		if calls == 1 {
			return nil, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
		}
		return []models.Row{session}, nil
	}
	client := newTestClient(pool)

	rows, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "tenant-a"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tenant-a", rows[0]["tenant"])
	assert.Equal(t, 2, pool.acquireCount())
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"syntax_error", &pgconn.PgError{Code: "42601"}, ErrPermanent},
		{"undefined_function", &pgconn.PgError{Code: "42883"}, ErrFunctionNotFound},
		{"insufficient_privilege", &pgconn.PgError{Code: "42501"}, ErrPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newFakePool(1)
			pool.query = func(context.Context, string, []any, models.Row) ([]models.Row, error) {
				return nil, tt.err
			}
			client := newTestClient(pool)

			_, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "t"})
			require.ErrorIs(t, err, tt.wantErr)
			assert.NotErrorIs(t, err, ErrTransient)
			assert.Equal(t, 1, pool.acquireCount())
			assert.Zero(t, pool.dirtyReleases)
		})
	}
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	pool := newFakePool(1)
	pool.acquireErr = refused()
	client := New(pool, Config{MaxRetries: 5, RetryBase: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Execute(ctx, "SELECT 1", nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, pool.acquireCount())
}

func TestCallFunction(t *testing.T) {
	pool := newFakePool(1)
	client := newTestClient(pool)
	tenant := &models.TenantContext{TenantID: "tenant-a"}

	_, err := client.CallFunction(context.Background(), "execute_sql_simple",
		[]Param{{Name: "sql_query", Value: "SELECT 1"}}, tenant)
	require.NoError(t, err)

	_, err = client.CallFunction(context.Background(), "analytics.ces_by_channel",
		[]Param{{Name: "from", Value: "2024-01-01"}, {Name: "to", Value: "2024-02-01"}}, tenant)
	require.NoError(t, err)

	require.Len(t, pool.queries, 2)
	assert.Equal(t, `SELECT * FROM "execute_sql_simple"($1)`, pool.queries[0].sql)
	assert.Equal(t, []any{"SELECT 1"}, pool.queries[0].args)
	assert.Equal(t, `SELECT * FROM "analytics"."ces_by_channel"($1, $2)`, pool.queries[1].sql)
	assert.Equal(t, []any{"2024-01-01", "2024-02-01"}, pool.queries[1].args)
}

func TestCallFunctionRejectsBadNames(t *testing.T) {
	pool := newFakePool(1)
	client := newTestClient(pool)

	for _, name := range []string{"", "fn; DROP TABLE campaigns", "a.b.c", "1fn", `fn"`} {
		_, err := client.CallFunction(context.Background(), name, nil, nil)
		assert.ErrorIs(t, err, ErrInvalidFunction, "name %q", name)
	}
	assert.Zero(t, pool.acquireCount())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"connection_failure", &pgconn.PgError{Code: "08006"}, true},
		{"too_many_connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin_shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique_violation", &pgconn.PgError{Code: "23505"}, false},
		{"connection_refused", fmt.Errorf("acquire connection: %w", refused()), true},
		{"caller_canceled", context.Canceled, false},
		{"tenant_context", fmt.Errorf("%w: boom", ErrTenantContext), false},
		{"unknown", errors.New("something odd"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.transient, errors.Is(got, ErrTransient))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, classify(nil))
}

func TestInvalidTenantAndClosedClient(t *testing.T) {
	pool := newFakePool(1)
	client := newTestClient(pool)

	_, err := client.Execute(context.Background(), "SELECT 1", nil, &models.TenantContext{TenantID: "  "})
	assert.ErrorIs(t, err, ErrInvalidTenant)
	assert.Zero(t, pool.acquireCount())

	client.Close()
	client.Close()
	assert.True(t, pool.closed)

	_, err = client.Execute(context.Background(), "SELECT 1", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, client.HealthCheck(context.Background()))
}

func TestHealth(t *testing.T) {
	pool := newFakePool(4)
	pool.query = func(_ context.Context, sql string, _ []any, _ models.Row) ([]models.Row, error) {
		switch sql {
		case pingSQL:
			return []models.Row{{"ok": int32(1)}}, nil
		case versionSQL:
			return []models.Row{{"version": "PostgreSQL 16.2 on x86_64-pc-linux-gnu"}}, nil
		case activitySQL:
			return []models.Row{{"total": int64(7), "active": int64(2)}}, nil
		}
		return nil, errors.New("unexpected query")
	}
	client := newTestClient(pool)

	report := client.Health(context.Background())
	assert.True(t, report.Connected)
	assert.Equal(t, int32(4), report.MaxConnections)
	assert.Contains(t, report.ServerVersion, "PostgreSQL 16.2")
	assert.Equal(t, int64(7), report.ServerConnections)
	assert.Equal(t, int64(2), report.ServerActiveConnections)
}

func TestHealthDisconnected(t *testing.T) {
	pool := newFakePool(2)
	pool.acquireErr = refused()
	client := newTestClient(pool)

	report := client.Health(context.Background())
	assert.False(t, report.Connected)
	assert.Equal(t, "unknown", report.ServerVersion)
	assert.Equal(t, 1, pool.acquireCount(), "health check is a single attempt")
}

func TestMissingTables(t *testing.T) {
	pool := newFakePool(1)
	pool.query = func(_ context.Context, _ string, args []any, _ models.Row) ([]models.Row, error) {
		return []models.Row{{"table_name": "campaigns"}}, nil
	}
	client := newTestClient(pool)

	missing, err := client.MissingTables(context.Background(), []string{"campaigns", "channels"})
	require.NoError(t, err)
	assert.Equal(t, []string{"channels"}, missing)
	assert.Equal(t, []any{[]string{"campaigns", "channels"}}, pool.queries[0].args)
}
