package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

// BeginRun records the start of a pipeline run.
func (s *SQLStore) BeginRun(ctx context.Context, runID string, kind schema.RunKind, startedAt time.Time) error {
	q := s.rebind("INSERT INTO pipeline_runs (run_id, kind, status, started_at) VALUES (?, ?, ?, ?)")
	if _, err := s.db.ExecContext(ctx, q, runID, string(kind), "running", s.ts(startedAt)); err != nil {
		return fmt.Errorf("failed to record run %s: %w", runID, err)
	}
	return nil
}

// EndRun stores the final status and a JSON rendering of summary.
func (s *SQLStore) EndRun(ctx context.Context, runID string, status schema.RunStatus, finishedAt time.Time, summary any) error {
	var payload any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode run summary: %w", err)
		}
		payload = string(b)
	}
	q := s.rebind("UPDATE pipeline_runs SET status = ?, finished_at = ?, summary = ? WHERE run_id = ?")
	if _, err := s.db.ExecContext(ctx, q, string(status), s.ts(finishedAt), payload, runID); err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	return nil
}

// recentRuns returns the newest runs first.
func (s *SQLStore) recentRuns(ctx context.Context, limit int) ([]schema.RunRecord, error) {
	q := s.rebind("SELECT run_id, kind, status, started_at, finished_at, summary FROM pipeline_runs ORDER BY started_at DESC LIMIT ?")
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RunRecord
	for rows.Next() {
		var r schema.RunRecord
		var kind, status string
		var started, finished dbTime
		var summary *string
		if err := rows.Scan(&r.RunID, &kind, &status, &started, &finished, &summary); err != nil {
			return nil, err
		}
		r.Kind = schema.RunKind(kind)
		r.Status = schema.RunStatus(status)
		r.StartedAt = started.Time
		r.FinishedAt = finished.Ptr()
		if summary != nil {
			r.Summary = *summary
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
