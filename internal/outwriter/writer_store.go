package outwriter

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/huangsam/orgpulse/internal/parquet"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"github.com/olekukonko/tablewriter/tw"
)

// rollup prints one row as a vertical field/value table.
func (r *textRenderer) rollup(w io.Writer, rec schema.RollupRecord) error {
	names := append(rec.KeyColumns(), rec.ValueColumns()...)
	values := append(rec.KeyValues(), rec.Values()...)
	rows := make([][]string, 0, len(names)+1)
	for i, name := range names {
		rows = append(rows, []string{name, fmtAny(values[i])})
	}
	rows = append(rows, []string{parquet.CalculatedColumn, fmtTime(rec.Calculated())})
	if _, err := fmt.Fprintf(w, "%s\n", rec.Table()); err != nil {
		return err
	}
	return renderTable(w, []string{"Field", "Value"}, rows, tw.AlignLeft)
}

func (r *textRenderer) status(w io.Writer, s schema.StoreStatus) error {
	connected := "connected"
	if !s.Connected {
		connected = "unreachable"
	}
	dirty := ""
	if s.Dirty {
		dirty = " (dirty)"
	}
	if _, err := fmt.Fprintf(w, "Backend %s %s, schema version %d%s\n", s.Backend, connected, s.SchemaVersion, dirty); err != nil {
		return err
	}

	tables := slices.Sorted(maps.Keys(s.TableRows))
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{t, itoa(s.TableRows[t])})
	}
	if err := renderTable(w, []string{"Table", "Rows"}, rows, tw.AlignLeft); err != nil {
		return err
	}

	if len(s.RecentRuns) == 0 {
		_, err := fmt.Fprintln(w, "No recorded runs.")
		return err
	}
	runs := make([][]string, 0, len(s.RecentRuns))
	for _, run := range s.RecentRuns {
		finished := "-"
		if run.FinishedAt != nil {
			finished = fmtTime(*run.FinishedAt)
		}
		runs = append(runs, []string{run.RunID, string(run.Kind), r.label(run.Status), fmtTime(run.StartedAt), finished})
	}
	return renderTable(w, []string{"Run", "Kind", "Status", "Started", "Finished"}, runs, tw.AlignLeft)
}

func (r *textRenderer) migration(w io.Writer, m store.MigrationResult) error {
	if !m.Changed {
		_, err := fmt.Fprintf(w, "Schema already at version %d.\n", m.To)
		return err
	}
	_, err := fmt.Fprintf(w, "Migrated schema from version %d to %d.\n", m.From, m.To)
	return err
}

func (r *textRenderer) export(w io.Writer, tables []parquet.ExportedTable) error {
	rows := make([][]string, 0, len(tables))
	for _, t := range tables {
		rows = append(rows, []string{string(t.Scope), t.Path, itoa(t.Rows)})
	}
	return renderTable(w, []string{"Scope", "File", "Rows"}, rows, tw.AlignLeft)
}
