package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/huangsam/orgpulse/schema"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrationResult describes what a migration run did.
type MigrationResult struct {
	From    uint `json:"from"`
	To      uint `json:"to"`
	Changed bool `json:"changed"`
}

// Migrate runs schema migrations against a fresh connection.
// - If targetVersion < 0, it migrates to the latest version.
// - If targetVersion == 0, it rolls back all migrations (to initial state).
// - If targetVersion > 0, it migrates to the specified version.
func Migrate(ctx context.Context, backend schema.DatabaseBackend, connStr string, targetVersion int) (MigrationResult, error) {
	db, err := openDB(backend, connStr)
	if err != nil {
		return MigrationResult{}, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return MigrationResult{}, fmt.Errorf("failed to ping database: %w", err)
	}
	m, err := newMigrator(db, backend)
	if err != nil {
		_ = db.Close()
		return MigrationResult{}, err
	}
	defer func() { _, _ = m.Close() }() // also closes db
	return runMigration(m, targetVersion)
}

func migrationDir(backend schema.DatabaseBackend) string {
	if backend == schema.PostgreSQLBackend {
		return "migrations/postgres"
	}
	return "migrations/" + string(backend)
}

// newMigrator binds the embedded migrations for backend to an open handle.
func newMigrator(db *sql.DB, backend schema.DatabaseBackend) (*migrate.Migrate, error) {
	var driver database.Driver
	var err error
	switch backend {
	case schema.SQLiteBackend:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case schema.MySQLBackend:
		driver, err = mysql.WithInstance(db, &mysql.Config{})
	case schema.PostgreSQLBackend:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migrate driver: %w", backend, err)
	}

	sub, err := fs.Sub(migrationsFS, migrationDir(backend))
	if err != nil {
		return nil, fmt.Errorf("failed to access migrations directory: %w", err)
	}
	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "orgpulse", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// runMigration moves the schema to targetVersion using the same convention as Migrate.
func runMigration(m *migrate.Migrate, targetVersion int) (MigrationResult, error) {
	currentVersion, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		return MigrationResult{}, fmt.Errorf("database is in a dirty state at version %d. Please fix manually or force version", currentVersion)
	}

	switch {
	case targetVersion < 0:
		err = m.Up()
	case targetVersion == 0:
		err = m.Down()
	default:
		err = m.Migrate(uint(targetVersion))
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return MigrationResult{From: currentVersion, To: currentVersion}, nil
	}
	if err != nil {
		return MigrationResult{}, fmt.Errorf("failed to migrate from version %d: %w", currentVersion, err)
	}

	newVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("failed to read migrated version: %w", err)
	}
	return MigrationResult{From: currentVersion, To: newVersion, Changed: true}, nil
}
