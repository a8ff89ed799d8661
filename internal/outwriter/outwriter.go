// Package outwriter renders run summaries, lookups and store status as
// human-readable tables or indented JSON.
package outwriter

import (
	"io"
	"os"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/parquet"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"golang.org/x/term"
)

// Fallback and bounds for the locator column of the extract table.
const (
	defaultTermWidth = 80
	minLocatorWidth  = 20
	maxLocatorWidth  = 70
)

// OutWriter provides a unified interface for all output operations.
// It encapsulates the output formats and provides a clean API for the command layer.
type OutWriter struct {
	mode       schema.OutputMode
	outputFile string
	colors     bool
	width      int
}

// NewOutWriter creates an output writer from validated configuration.
// Colors are only used when writing a table to an interactive terminal.
func NewOutWriter(cfg *contract.Config) *OutWriter {
	tty := term.IsTerminal(int(os.Stdout.Fd()))
	width := defaultTermWidth
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	return &OutWriter{
		mode:       cfg.Output,
		outputFile: cfg.OutputFile,
		colors:     cfg.UseColors && tty && cfg.OutputFile == "",
		width:      width,
	}
}

// text returns a renderer for the configured table options.
func (ow *OutWriter) text() *textRenderer {
	return &textRenderer{colors: ow.colors, locatorWidth: locatorWidth(ow.width)}
}

// write dispatches on the output mode.
func (ow *OutWriter) write(data any, table func(w io.Writer) error) error {
	if ow.mode == schema.JSONOut {
		return writeWithFile(ow.outputFile, func(w io.Writer) error { return writeJSON(w, data) }, "Wrote JSON")
	}
	return writeWithFile(ow.outputFile, table, "Wrote table")
}

// WriteExtract prints an extraction summary.
func (ow *OutWriter) WriteExtract(s schema.ExtractSummary) error {
	return ow.write(s, func(w io.Writer) error { return ow.text().extract(w, s) })
}

// WriteResolve prints an identity resolution summary.
func (ow *OutWriter) WriteResolve(s schema.ResolveSummary) error {
	return ow.write(s, func(w io.Writer) error { return ow.text().resolve(w, s) })
}

// WriteUnmatched prints authors that need a manual mapping.
func (ow *OutWriter) WriteUnmatched(authors []schema.UnmatchedAuthor) error {
	return ow.write(authors, func(w io.Writer) error { return ow.text().unmatched(w, authors) })
}

// WriteMapping prints one stored mapping.
func (ow *OutWriter) WriteMapping(m schema.IdentityMapping) error {
	return ow.write(m, func(w io.Writer) error { return ow.text().mapping(w, m) })
}

// WriteAggregate prints an aggregation summary.
func (ow *OutWriter) WriteAggregate(s schema.AggregateSummary) error {
	return ow.write(s, func(w io.Writer) error { return ow.text().aggregate(w, s) })
}

// WriteRollup prints one rollup row.
func (ow *OutWriter) WriteRollup(rec schema.RollupRecord) error {
	return ow.write(rec, func(w io.Writer) error { return ow.text().rollup(w, rec) })
}

// WriteStatus prints the persisted state.
func (ow *OutWriter) WriteStatus(s schema.StoreStatus) error {
	return ow.write(s, func(w io.Writer) error { return ow.text().status(w, s) })
}

// WriteMigration prints the outcome of a migration.
func (ow *OutWriter) WriteMigration(r store.MigrationResult) error {
	return ow.write(r, func(w io.Writer) error { return ow.text().migration(w, r) })
}

// WriteExport prints the files written by an export.
func (ow *OutWriter) WriteExport(tables []parquet.ExportedTable) error {
	return ow.write(tables, func(w io.Writer) error { return ow.text().export(w, tables) })
}

// locatorWidth reserves room for the fixed extract columns.
func locatorWidth(termWidth int) int {
	available := termWidth - 90
	return min(max(available, minLocatorWidth), maxLocatorWidth)
}
