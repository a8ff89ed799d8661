package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huangsam/orgpulse/schema"
)

// RawTables are the ingestion and bookkeeping tables, in creation order.
var RawTables = []string{
	"repositories", "commits", "pull_requests", "approvals", "staff", "identity_mappings", "pipeline_runs",
}

// GetStatus reports connectivity, schema version, row counts and the most recent runs.
func (s *SQLStore) GetStatus(ctx context.Context) (schema.StoreStatus, error) {
	status := schema.StoreStatus{
		Backend:   string(s.backend),
		TableRows: make(map[string]int64),
	}
	if err := s.db.PingContext(ctx); err != nil {
		return status, fmt.Errorf("failed to ping database: %w", err)
	}
	status.Connected = true

	var version int64
	var dirty bool
	err := s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return status, fmt.Errorf("failed to read schema version: %w", err)
	}
	status.SchemaVersion = int(version)
	status.Dirty = dirty

	tables := append([]string{}, RawTables...)
	for _, scope := range schema.RollupScopes {
		tables = append(tables, schema.NewRollup(scope).Table())
	}
	for _, table := range tables {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return status, fmt.Errorf("failed to count %s: %w", table, err)
		}
		status.TableRows[table] = n
	}

	runs, err := s.recentRuns(ctx, 5)
	if err != nil {
		return status, err
	}
	status.RecentRuns = runs
	return status, nil
}
