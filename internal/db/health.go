package db

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/HanTheDev/genie-analytics/internal/logging"
)

type HealthReport struct {
	Connected               bool   `json:"connected"`
	TotalConnections        int32  `json:"total_connections"`
	ActiveConnections       int32  `json:"active_connections"`
	IdleConnections         int32  `json:"idle_connections"`
	MaxConnections          int32  `json:"max_connections"`
	ServerConnections       int64  `json:"server_connections"`
	ServerActiveConnections int64  `json:"server_active_connections"`
	ServerVersion           string `json:"server_version"`
}

const (
	pingSQL     = "SELECT 1 AS ok"
	versionSQL  = "SELECT version() AS version"
	activitySQL = `SELECT count(*) AS total, count(*) FILTER (WHERE state = 'active') AS active
		FROM pg_stat_activity WHERE datname = current_database()`
	tablesSQL = `SELECT table_name::text AS table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = ANY($1)`
)

// HealthCheck makes one unscoped SELECT 1 attempt.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if c.closed.Load() {
		return false
	}
	rows, err := c.queryOnce(ctx, pingSQL, nil, nil)
	return err == nil && len(rows) == 1
}

// Health reports pool statistics plus server-side details. Failures of the
// detail queries are logged and leave their fields at zero values.
func (c *Client) Health(ctx context.Context) HealthReport {
	stat := c.pool.Stat()
	report := HealthReport{
		TotalConnections:  stat.Total,
		ActiveConnections: stat.Acquired,
		IdleConnections:   stat.Idle,
		MaxConnections:    stat.Max,
		ServerVersion:     "unknown",
	}

	report.Connected = c.HealthCheck(ctx)
	if !report.Connected {
		return report
	}

	var (
		version       string
		total, active int64
		g             errgroup.Group
	)
	g.Go(func() error {
		rows, err := c.queryOnce(ctx, versionSQL, nil, nil)
		if err != nil {
			return fmt.Errorf("server version: %w", err)
		}
		if len(rows) > 0 {
			if v, ok := rows[0]["version"].(string); ok {
				version = v
			}
		}
		return nil
	})
	g.Go(func() error {
		rows, err := c.queryOnce(ctx, activitySQL, nil, nil)
		if err != nil {
			return fmt.Errorf("pg_stat_activity: %w", err)
		}
		if len(rows) > 0 {
			total = toInt64(rows[0]["total"])
			active = toInt64(rows[0]["active"])
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Partial database health report")
	}

	if version != "" {
		report.ServerVersion = version
	}
	report.ServerConnections = total
	report.ServerActiveConnections = active
	return report
}

// MissingTables returns the names in expected that do not exist in the public schema.
func (c *Client) MissingTables(ctx context.Context, expected []string) ([]string, error) {
	rows, err := c.Execute(ctx, tablesSQL, []any{expected}, nil)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(rows))
	for _, row := range rows {
		if name, ok := row["table_name"].(string); ok {
			found[strings.ToLower(name)] = true
		}
	}
	var missing []string
	for _, name := range expected {
		if !found[strings.ToLower(name)] {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
