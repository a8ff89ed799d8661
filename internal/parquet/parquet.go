// Package parquet exports rollup tables to Parquet files for analytics tools
// using github.com/parquet-go/parquet-go.
package parquet

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/huangsam/orgpulse/schema"
	"github.com/parquet-go/parquet-go"
)

// CalculatedColumn is appended to every exported table.
const CalculatedColumn = "last_calculated"

// RollupSource loads every row of a rollup table.
type RollupSource interface {
	LoadRollups(ctx context.Context, scope schema.Scope) ([]schema.RollupRecord, error)
}

// ExportedTable describes one written file.
type ExportedTable struct {
	Scope schema.Scope `json:"scope"`
	Path  string       `json:"path"`
	Rows  int          `json:"rows"`
}

// columnNode maps a Go value of a rollup column to its parquet leaf.
func columnNode(v any) (parquet.Node, error) {
	switch v.(type) {
	case string:
		return parquet.String(), nil
	case int64:
		return parquet.Int(64), nil
	case float64:
		return parquet.Leaf(parquet.DoubleType), nil
	}
	return nil, fmt.Errorf("unsupported column type %T", v)
}

// RollupSchema derives the parquet schema of a rollup table from an empty record.
func RollupSchema(proto schema.RollupRecord) (*parquet.Schema, error) {
	group := parquet.Group{CalculatedColumn: parquet.Timestamp(parquet.Microsecond)}
	names := append(proto.KeyColumns(), proto.ValueColumns()...)
	values := append(proto.KeyValues(), proto.Values()...)
	for i, name := range names {
		node, err := columnNode(values[i])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", proto.Table(), name, err)
		}
		group[name] = node
	}
	return parquet.NewSchema(proto.Table(), group), nil
}

// toValue converts a column value to a parquet value at the given leaf index.
func toValue(v any, column int) (parquet.Value, error) {
	var out parquet.Value
	switch x := v.(type) {
	case string:
		out = parquet.ByteArrayValue([]byte(x))
	case int64:
		out = parquet.Int64Value(x)
	case float64:
		out = parquet.DoubleValue(x)
	default:
		return out, fmt.Errorf("unsupported column type %T", v)
	}
	return out.Level(0, 0, column), nil
}

// WriteRollups writes records of one scope to w. Records must all belong to scope.
func WriteRollups(w io.Writer, scope schema.Scope, records []schema.RollupRecord) error {
	proto := schema.NewRollup(scope)
	if proto == nil {
		return fmt.Errorf("unknown rollup scope: %s", scope)
	}
	s, err := RollupSchema(proto)
	if err != nil {
		return err
	}
	index := make(map[string]int)
	for i, path := range s.Columns() {
		index[path[0]] = i
	}
	names := append(proto.KeyColumns(), proto.ValueColumns()...)

	rows := make([]parquet.Row, 0, len(records))
	for _, rec := range records {
		if rec.Scope() != scope {
			return fmt.Errorf("cannot write %s record into %s export", rec.Scope(), scope)
		}
		row := make(parquet.Row, len(index))
		for i, v := range append(rec.KeyValues(), rec.Values()...) {
			col := index[names[i]]
			if row[col], err = toValue(v, col); err != nil {
				return fmt.Errorf("%s.%s: %w", rec.Table(), names[i], err)
			}
		}
		col := index[CalculatedColumn]
		row[col] = parquet.Int64Value(rec.Calculated().UTC().UnixMicro()).Level(0, 0, col)
		rows = append(rows, row)
	}

	writer := parquet.NewWriter(w, s, parquet.Compression(&parquet.Snappy))
	if _, err := writer.WriteRows(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write %s rows: %w", proto.Table(), err)
	}
	return writer.Close()
}

// WriteRollupsFile writes records of one scope to a new file at outputPath.
func WriteRollupsFile(outputPath string, scope schema.Scope, records []schema.RollupRecord) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := WriteRollups(file, scope, records); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// ExportRollups writes one <table>.parquet file per rollup scope into dir.
func ExportRollups(ctx context.Context, src RollupSource, dir string) ([]ExportedTable, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	out := make([]ExportedTable, 0, len(schema.RollupScopes))
	for _, scope := range schema.RollupScopes {
		records, err := src.LoadRollups(ctx, scope)
		if err != nil {
			return out, fmt.Errorf("failed to load %s rollups: %w", scope, err)
		}
		path := filepath.Join(dir, schema.NewRollup(scope).Table()+".parquet")
		if err := WriteRollupsFile(path, scope, records); err != nil {
			return out, err
		}
		out = append(out, ExportedTable{Scope: scope, Path: path, Rows: len(records)})
	}
	return out, nil
}
