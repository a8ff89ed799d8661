package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huangsam/orgpulse/schema"
)

const staffSelect = "SELECT staff_id, name, email, status, unit, staff_rank, manager, location, updated_at FROM staff"

var staffColumns = []string{"name", "email", "status", "unit", "staff_rank", "manager", "location", "updated_at"}

// ListRawAuthors groups commits by (author name, author email).
func (s *SQLStore) ListRawAuthors(ctx context.Context) ([]schema.RawAuthor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT author_name, author_email, COUNT(*) FROM commits
		GROUP BY author_name, author_email ORDER BY author_name, author_email`)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw authors: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawAuthor
	for rows.Next() {
		var a schema.RawAuthor
		if err := rows.Scan(&a.Name, &a.Email, &a.Commits); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanStaff(row rowScanner) (schema.StaffRecord, error) {
	var r schema.StaffRecord
	var status sql.NullString
	var updated dbTime
	if err := row.Scan(&r.StaffID, &r.Name, &r.Email, &status, &r.Unit, &r.Rank, &r.Manager, &r.Location, &updated); err != nil {
		return r, err
	}
	r.Status = schema.StaffStatus(status.String)
	r.UpdatedAt = updated.Ptr()
	return r, nil
}

// ListStaff returns the staff table ordered by staff id.
func (s *SQLStore) ListStaff(ctx context.Context) ([]schema.StaffRecord, error) {
	rows, err := s.db.QueryContext(ctx, staffSelect+" ORDER BY staff_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list staff: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.StaffRecord
	for rows.Next() {
		r, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetStaff returns one staff record.
func (s *SQLStore) GetStaff(ctx context.Context, staffID string) (schema.StaffRecord, bool, error) {
	r, err := scanStaff(s.db.QueryRowContext(ctx, s.rebind(staffSelect+" WHERE staff_id = ?"), staffID))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.StaffRecord{}, false, nil
	}
	if err != nil {
		return schema.StaffRecord{}, false, fmt.Errorf("failed to load staff %s: %w", staffID, err)
	}
	return r, true, nil
}

// UpsertStaff loads staff records. The staff table is owned by an external HR sync;
// this is the ingestion boundary used by that sync and by tests.
func (s *SQLStore) UpsertStaff(ctx context.Context, records []schema.StaffRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	q := s.upsertSQL("staff", []string{"staff_id"}, staffColumns)
	for _, r := range records {
		var status any
		if r.Status != "" {
			status = string(r.Status)
		}
		if _, err := tx.ExecContext(ctx, q, r.StaffID, r.Name, r.Email, status, r.Unit, r.Rank,
			r.Manager, r.Location, s.nullTS(r.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to upsert staff %s: %w", r.StaffID, err)
		}
	}
	return tx.Commit()
}

// ListMappings returns every identity mapping ordered by author name.
func (s *SQLStore) ListMappings(ctx context.Context) ([]schema.IdentityMapping, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT author_name, staff_id, email, method, mapped_at FROM identity_mappings ORDER BY author_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list identity mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.IdentityMapping
	for rows.Next() {
		var m schema.IdentityMapping
		var method string
		var mapped dbTime
		if err := rows.Scan(&m.AuthorName, &m.StaffID, &m.Email, &method, &mapped); err != nil {
			return nil, err
		}
		m.Method = schema.MatchMethod(method)
		m.MappedAt = mapped.Time
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertMapping writes the mapping for m.AuthorName, replacing any previous one.
func (s *SQLStore) UpsertMapping(ctx context.Context, m schema.IdentityMapping) error {
	q := s.upsertSQL("identity_mappings", []string{"author_name"}, []string{"staff_id", "email", "method", "mapped_at"})
	if _, err := s.db.ExecContext(ctx, q, m.AuthorName, m.StaffID, m.Email, string(m.Method), s.ts(m.MappedAt)); err != nil {
		return fmt.Errorf("failed to upsert mapping for %s: %w", m.AuthorName, err)
	}
	return nil
}
