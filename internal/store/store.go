// Package store persists raw ingestion tables, identity mappings and rollups
// in SQLite, MySQL or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver
)

// sqliteTimeLayout is fixed width so that stored strings sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLStore implements contract.Store on top of database/sql.
type SQLStore struct {
	db      *sql.DB
	backend schema.DatabaseBackend
	now     func() time.Time
}

var _ contract.Store = &SQLStore{} // Compile-time check

// Open connects to the backend, verifies the connection and migrates to the latest schema.
func Open(ctx context.Context, backend schema.DatabaseBackend, connStr string) (*SQLStore, error) {
	db, err := openDB(backend, connStr)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", backend, err)
	}
	if err := migrateLatest(ctx, db, backend, connStr); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, backend: backend, now: time.Now}, nil
}

// migrateLatest brings the schema up to date. SQLite migrates on the shared handle
// so that in-memory databases see the tables; other backends use a short-lived connection.
func migrateLatest(ctx context.Context, db *sql.DB, backend schema.DatabaseBackend, connStr string) error {
	if backend != schema.SQLiteBackend {
		_, err := Migrate(ctx, backend, connStr, -1)
		return err
	}
	m, err := newMigrator(db, backend)
	if err != nil {
		return err
	}
	_, err = runMigration(m, -1)
	return err
}

// openDB opens a handle for the backend without touching the schema.
func openDB(backend schema.DatabaseBackend, connStr string) (*sql.DB, error) {
	switch backend {
	case schema.SQLiteBackend:
		db, err := sql.Open("sqlite", sqliteDSN(connStr))
		if err != nil {
			return nil, fmt.Errorf("failed to open SQLite database: %w", err)
		}
		// One connection keeps :memory: databases alive and serializes writers.
		db.SetMaxOpenConns(1)
		return db, nil
	case schema.MySQLBackend:
		db, err := sql.Open("mysql", connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open MySQL database: %w", err)
		}
		return db, nil
	case schema.PostgreSQLBackend:
		db, err := sql.Open("pgx", connStr)
		if err != nil {
			return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported backend: %s", backend)
}

// sqliteDSN adds pragmas unless the caller already supplied query parameters.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path != ":memory:" {
		pragmas += "&_pragma=journal_mode(WAL)"
	}
	return path + "?" + pragmas
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock replaces the clock used for ingestion timestamps.
func (s *SQLStore) SetClock(now func() time.Time) {
	s.now = now
}

// Backend returns the configured backend.
func (s *SQLStore) Backend() schema.DatabaseBackend {
	return s.backend
}

// rebind converts '?' placeholders to '$n' for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.backend != schema.PostgreSQLBackend {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ts converts a time to the representation stored by the backend.
// Times are normalized to UTC with microsecond precision on every backend.
func (s *SQLStore) ts(t time.Time) any {
	t = t.UTC().Truncate(time.Microsecond)
	if s.backend == schema.SQLiteBackend {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// nullTS is ts for optional times.
func (s *SQLStore) nullTS(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return s.ts(*t)
}

// insertIgnoreSQL builds an insert that silently skips rows whose natural key exists.
func (s *SQLStore) insertIgnoreSQL(table string, cols []string, keyCols []string) string {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	if s.backend == schema.MySQLBackend {
		q += fmt.Sprintf(" ON DUPLICATE KEY UPDATE %s = %s", keyCols[0], keyCols[0])
	} else {
		q += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keyCols, ", "))
	}
	return s.rebind(q)
}

// upsertSQL builds an insert that rewrites valCols when the natural key exists.
func (s *SQLStore) upsertSQL(table string, keyCols, valCols []string) string {
	cols := make([]string, 0, len(keyCols)+len(valCols))
	cols = append(cols, keyCols...)
	cols = append(cols, valCols...)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	sets := make([]string, len(valCols))
	if s.backend == schema.MySQLBackend {
		for i, c := range valCols {
			sets[i] = fmt.Sprintf("%s = new.%s", c, c)
		}
		q += " AS new ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	} else {
		for i, c := range valCols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		q += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keyCols, ", "), strings.Join(sets, ", "))
	}
	return s.rebind(q)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// whereKeys renders "a = ? AND b = ?".
func whereKeys(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, " AND ")
}

// dbTime scans timestamps stored as native values or as SQLite text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var _ sql.Scanner = &dbTime{} // Compile-time check

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Scan implements sql.Scanner.
func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into time", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}

// Ptr returns nil for NULL.
func (t dbTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
