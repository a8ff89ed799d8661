package parquet

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/orgpulse/schema"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teamRow mirrors the exported rollup_team layout.
type teamRow struct {
	Unit                     string    `parquet:"unit"`
	Members                  int64     `parquet:"members"`
	Contributors             int64     `parquet:"contributors"`
	Commits                  int64     `parquet:"commits"`
	MergeCommits             int64     `parquet:"merge_commits"`
	LinesAdded               int64     `parquet:"lines_added"`
	LinesDeleted             int64     `parquet:"lines_deleted"`
	CharsAdded               int64     `parquet:"chars_added"`
	CharsDeleted             int64     `parquet:"chars_deleted"`
	FilesChanged             int64     `parquet:"files_changed"`
	AvgLinesPerCommit        float64   `parquet:"avg_lines_per_commit"`
	PRsAuthored              int64     `parquet:"prs_authored"`
	PRsMerged                int64     `parquet:"prs_merged"`
	ApprovalsGiven           int64     `parquet:"approvals_given"`
	AvgCommitsPerContributor float64   `parquet:"avg_commits_per_contributor"`
	LastCalculated           time.Time `parquet:"last_calculated,timestamp(microsecond)"`
}

type fakeSource map[schema.Scope][]schema.RollupRecord

func (f fakeSource) LoadRollups(_ context.Context, scope schema.Scope) ([]schema.RollupRecord, error) {
	return f[scope], nil
}

var calculatedAt = time.Date(2024, 6, 1, 12, 0, 0, 123000, time.UTC)

func payments() *schema.TeamRollup {
	r := &schema.TeamRollup{
		Unit:                     "Payments",
		Members:                  2,
		Contributors:             2,
		CommitCounters:           schema.CommitCounters{Commits: 3, MergeCommits: 1, LinesAdded: 40, LinesDeleted: 2, AvgLinesPerCommit: 14},
		PRsAuthored:              1,
		AvgCommitsPerContributor: 1.5,
	}
	r.SetCalculated(calculatedAt)
	return r
}

func TestRollupSchema_EveryScope(t *testing.T) {
	for _, scope := range schema.RollupScopes {
		t.Run(string(scope), func(t *testing.T) {
			proto := schema.NewRollup(scope)
			s, err := RollupSchema(proto)
			require.NoError(t, err)
			names := append(proto.KeyColumns(), proto.ValueColumns()...)
			for _, name := range append(names, CalculatedColumn) {
				_, ok := s.Lookup(name)
				assert.True(t, ok, "column %s", name)
			}
			assert.Len(t, s.Columns(), len(names)+1)
		})
	}
}

func TestWriteRollups_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRollups(&buf, schema.TeamScope, []schema.RollupRecord{payments()}))

	reader := parquet.NewGenericReader[teamRow](bytes.NewReader(buf.Bytes()))
	defer func() { _ = reader.Close() }()
	rows := make([]teamRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	require.Equal(t, 1, n)

	got := rows[0]
	assert.Equal(t, "Payments", got.Unit)
	assert.Equal(t, int64(2), got.Members)
	assert.Equal(t, int64(3), got.Commits)
	assert.Equal(t, int64(40), got.LinesAdded)
	assert.InDelta(t, 14.0, got.AvgLinesPerCommit, 0.001)
	assert.InDelta(t, 1.5, got.AvgCommitsPerContributor, 0.001)
	assert.True(t, calculatedAt.Equal(got.LastCalculated.UTC()))
}

func TestWriteRollups_Errors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteRollups(&buf, schema.AllScope, nil))
	assert.Error(t, WriteRollups(&buf, schema.StaffScope, []schema.RollupRecord{payments()}))
	assert.Error(t, WriteRollupsFile("/nonexistent/directory/out.parquet", schema.TeamScope, nil))
}

func TestExportRollups(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "export")
	src := fakeSource{schema.TeamScope: {payments()}}

	tables, err := ExportRollups(context.Background(), src, dir)
	require.NoError(t, err)
	require.Len(t, tables, len(schema.RollupScopes))

	for _, table := range tables {
		info, err := os.Stat(table.Path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), "empty tables still carry a schema")

		file, err := os.Open(table.Path)
		require.NoError(t, err)
		pf, err := parquet.OpenFile(file, info.Size())
		require.NoError(t, err)
		assert.Equal(t, int64(table.Rows), pf.NumRows(), table.Scope)
		_ = file.Close()
	}
	assert.Equal(t, filepath.Join(dir, "rollup_team.parquet"), tables[len(tables)-1].Path)
	assert.Equal(t, 1, tables[len(tables)-1].Rows)
}
