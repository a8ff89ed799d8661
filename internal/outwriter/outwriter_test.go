package outwriter

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/parquet"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plain() *textRenderer {
	return &textRenderer{locatorWidth: 30}
}

func TestExtractTable(t *testing.T) {
	s := schema.ExtractSummary{
		RunID: "run-1",
		Repositories: []schema.RepositoryResult{
			{Locator: "https://git.example.com/scm/cg/orders.git", Status: schema.StatusDegraded, PRSource: schema.HeuristicSource,
				CommitsSeen: 10, CommitsNew: 4, MergesSeen: 4, MergesMatched: 3, Degradation: "api unavailable"},
			{Locator: "not/a/repo", Status: schema.StatusFailed, Error: "clone failed"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, plain().extract(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "Degraded")
	assert.Contains(t, out, "4/10")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "api unavailable")
	assert.Contains(t, out, "clone failed")
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "Run run-1: 2 repositories, 1 failed")
}

func TestResolveTable(t *testing.T) {
	s := schema.ResolveSummary{
		RunID:      "run-2",
		DryRun:     true,
		Candidates: 2,
		Matched:    []schema.Match{{AuthorName: "Jane Doe", Email: "jane.doe@externalmail.com", StaffID: "S7", Method: schema.UsernameDomainMethod, Changed: true}},
		Unmatched:  []schema.UnmatchedAuthor{{Name: "Ghost", Commits: 5, Reason: "no-match"}},
	}
	var buf bytes.Buffer
	require.NoError(t, plain().resolve(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "username-domain")
	assert.Contains(t, out, "Ghost")
	assert.Contains(t, out, "no-match")
	assert.Contains(t, out, "(preview)")
	assert.Contains(t, out, "1 matched, 1 unmatched, 0 written")
}

func TestUnmatchedEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, plain().unmatched(&buf, nil))
	assert.Equal(t, "No unmatched authors.\n", buf.String())
}

func TestAggregateTable(t *testing.T) {
	s := schema.AggregateSummary{
		RunID: "run-3",
		Calculators: []schema.CalculatorResult{
			{Scope: schema.DailyScope, Status: schema.StatusOK, Keys: 3, Recalculated: 1, Unchanged: 2},
			{Scope: schema.StaffScope, Status: schema.StatusDegraded, MissingDependency: "identity_mappings"},
			{Scope: schema.TeamScope, Status: schema.StatusSkipped, Error: "dependency staff failed"},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, plain().aggregate(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "missing identity_mappings")
	assert.Contains(t, out, "Skipped")
	assert.Contains(t, out, "(incremental): 1 rows written")
}

func TestRollupTable(t *testing.T) {
	rec := &schema.StaffRollup{StaffID: "S7", StaffName: "Jane Doe", Unit: "Payments"}
	rec.Commits = 2
	rec.SetCalculated(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	var buf bytes.Buffer
	require.NoError(t, plain().rollup(&buf, rec))
	out := buf.String()
	assert.Contains(t, out, "rollup_staff")
	assert.Contains(t, out, "staff_id")
	assert.Contains(t, out, "S7")
	assert.Contains(t, out, "2024-06-01T12:00:00Z")
}

func TestStatusTable(t *testing.T) {
	finished := time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC)
	s := schema.StoreStatus{
		Backend:       "sqlite",
		Connected:     true,
		SchemaVersion: 1,
		TableRows:     map[string]int64{"commits": 4, "approvals": 1},
		RecentRuns:    []schema.RunRecord{{RunID: "run-1", Kind: schema.ExtractRun, Status: schema.StatusOK, StartedAt: finished, FinishedAt: &finished}},
	}
	var buf bytes.Buffer
	require.NoError(t, plain().status(&buf, s))
	out := buf.String()
	assert.Contains(t, out, "Backend sqlite connected, schema version 1")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("approvals")), bytes.Index(buf.Bytes(), []byte("commits")))
	assert.Contains(t, out, "run-1")

	buf.Reset()
	require.NoError(t, plain().status(&buf, schema.StoreStatus{Backend: "mysql", Dirty: true}))
	assert.Contains(t, buf.String(), "unreachable")
	assert.Contains(t, buf.String(), "(dirty)")
	assert.Contains(t, buf.String(), "No recorded runs.")
}

func TestMigrationAndExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, plain().migration(&buf, store.MigrationResult{From: 0, To: 1, Changed: true}))
	assert.Equal(t, "Migrated schema from version 0 to 1.\n", buf.String())

	buf.Reset()
	require.NoError(t, plain().migration(&buf, store.MigrationResult{From: 1, To: 1}))
	assert.Equal(t, "Schema already at version 1.\n", buf.String())

	buf.Reset()
	require.NoError(t, plain().export(&buf, []parquet.ExportedTable{{Scope: schema.TeamScope, Path: "out/rollup_team.parquet", Rows: 3}}))
	assert.Contains(t, buf.String(), "rollup_team.parquet")
}

func TestOutWriter_JSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	ow := NewOutWriter(&contract.Config{Output: schema.JSONOut, OutputFile: path, UseColors: true})
	assert.False(t, ow.colors)

	require.NoError(t, ow.WriteAggregate(schema.AggregateSummary{RunID: "run-9", Force: true}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run-9", got["run_id"])
	assert.Equal(t, true, got["force"])
}

func TestOutWriter_TableToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.txt")
	ow := NewOutWriter(&contract.Config{Output: schema.TextOut, OutputFile: path})
	require.NoError(t, ow.WriteMapping(schema.IdentityMapping{AuthorName: "Jane Doe", StaffID: "S7", Method: schema.ManualMethod}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `Mapped "Jane Doe" to S7 (manual, -)`)
}

func TestLocatorWidth(t *testing.T) {
	assert.Equal(t, minLocatorWidth, locatorWidth(80))
	assert.Equal(t, 40, locatorWidth(130))
	assert.Equal(t, maxLocatorWidth, locatorWidth(400))
}
