package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

func rollupSelect(rec schema.RollupRecord) string {
	cols := append(append([]string{}, rec.KeyColumns()...), rec.ValueColumns()...)
	cols = append(cols, "last_calculated")
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), rec.Table())
}

func scanRollup(row rowScanner, rec schema.RollupRecord) error {
	var calculated dbTime
	if err := row.Scan(append(rec.ScanTargets(), &calculated)...); err != nil {
		return err
	}
	rec.SetCalculated(calculated.Time)
	return nil
}

// LoadRollups returns every stored row of a scope.
func (s *SQLStore) LoadRollups(ctx context.Context, scope schema.Scope) ([]schema.RollupRecord, error) {
	proto := schema.NewRollup(scope)
	if proto == nil {
		return nil, fmt.Errorf("unknown rollup scope: %s", scope)
	}
	q := rollupSelect(proto) + " ORDER BY " + strings.Join(proto.KeyColumns(), ", ")
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s rollups: %w", scope, err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RollupRecord
	for rows.Next() {
		rec := schema.NewRollup(scope)
		if err := scanRollup(rows, rec); err != nil {
			return nil, fmt.Errorf("failed to scan %s rollup: %w", scope, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetRollup returns the row of scope whose key columns equal key.
func (s *SQLStore) GetRollup(ctx context.Context, scope schema.Scope, key ...any) (schema.RollupRecord, bool, error) {
	rec := schema.NewRollup(scope)
	if rec == nil {
		return nil, false, fmt.Errorf("unknown rollup scope: %s", scope)
	}
	if len(key) != len(rec.KeyColumns()) {
		return nil, false, fmt.Errorf("%s rollup key needs %d values, got %d", scope, len(rec.KeyColumns()), len(key))
	}
	q := s.rebind(rollupSelect(rec) + " WHERE " + whereKeys(rec.KeyColumns()))
	err := scanRollup(s.db.QueryRowContext(ctx, q, key...), rec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s rollup: %w", scope, err)
	}
	return rec, true, nil
}

// UpsertRollups writes rows in one transaction and stamps each with at.
func (s *SQLStore) UpsertRollups(ctx context.Context, rows []schema.RollupRecord, at time.Time) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := make(map[string]*sql.Stmt)
	defer func() {
		for _, st := range stmts {
			_ = st.Close()
		}
	}()
	calculated := s.ts(at)
	for _, rec := range rows {
		stmt, ok := stmts[rec.Table()]
		if !ok {
			q := s.upsertSQL(rec.Table(), rec.KeyColumns(), append(append([]string{}, rec.ValueColumns()...), "last_calculated"))
			stmt, err = tx.PrepareContext(ctx, q)
			if err != nil {
				return fmt.Errorf("failed to prepare %s upsert: %w", rec.Table(), err)
			}
			stmts[rec.Table()] = stmt
		}
		args := append(append(append([]any{}, rec.KeyValues()...), rec.Values()...), calculated)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to upsert %s row %v: %w", rec.Table(), rec.KeyValues(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	stamp := at.UTC().Truncate(time.Microsecond)
	for _, rec := range rows {
		rec.SetCalculated(stamp)
	}
	return nil
}

// DeleteRollups removes rows of scope by key.
func (s *SQLStore) DeleteRollups(ctx context.Context, scope schema.Scope, keys [][]any) error {
	if len(keys) == 0 {
		return nil
	}
	proto := schema.NewRollup(scope)
	if proto == nil {
		return fmt.Errorf("unknown rollup scope: %s", scope)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE %s", proto.Table(), whereKeys(proto.KeyColumns())))
	for _, key := range keys {
		if _, err := tx.ExecContext(ctx, q, key...); err != nil {
			return fmt.Errorf("failed to delete %s row %v: %w", scope, key, err)
		}
	}
	return tx.Commit()
}
