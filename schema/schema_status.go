package schema

import "time"

// StoreStatus represents the status of the persisted state.
type StoreStatus struct {
	Backend       string           `json:"backend"`
	Connected     bool             `json:"connected"`
	SchemaVersion int              `json:"schema_version"`
	Dirty         bool             `json:"dirty"`
	TableRows     map[string]int64 `json:"table_rows"`
	RecentRuns    []RunRecord      `json:"recent_runs"`
}

// RunRecord represents a row from the pipeline_runs table.
type RunRecord struct {
	RunID      string     `json:"run_id"`
	Kind       RunKind    `json:"kind"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Summary    string     `json:"summary,omitempty"`
}
