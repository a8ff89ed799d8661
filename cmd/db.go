package cmd

import (
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/outwriter"
	"github.com/huangsam/orgpulse/internal/parquet"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dbCmd focused on persisted state management.
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database that holds raw history and rollups",
	Long: `Manage the persisted state shared by every pipeline stage.

Supported backends: SQLite (default), MySQL, PostgreSQL

Subcommands:
  migrate - Run database schema migrations
  status  - Show schema version, table sizes and recent runs
  export  - Export rollup tables to Parquet for analytics

Examples:
  # Check what is stored
  orgpulse db status

  # Export rollups for DuckDB or pandas
  orgpulse db export --dir ./rollups`,
}

// dbMigrateCmd runs database migrations.
var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database schema migrations (upgrades/downgrades)",
	Long: `Manage database schema versions. Every other command migrates to the latest
version when it opens the store; use this command to move to a specific version.

Examples:
  # Migrate to latest version (default)
  orgpulse db migrate

  # Rollback to the initial state
  orgpulse db migrate --target-version 0 --db-backend postgresql --db-connect "postgres://..."`,
	PreRunE: configSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		result, err := store.Migrate(rootCtx, cfg.DBBackend, cfg.DBConnect, viper.GetInt("target-version"))
		if err != nil {
			contract.LogFatal("Failed to run migrations", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteMigration(result); err != nil {
			contract.LogFatal("Failed to write migration result", err)
		}
	},
}

// dbStatusCmd shows the persisted state.
var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display schema version, row counts and recent runs",
	Long: `Show the backend, its schema version, the row count of every table and the most
recent extract, resolve and aggregate runs with their outcome.

Examples:
  orgpulse db status
  orgpulse db status --output json`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		status, err := pipeline.Status(rootCtx)
		if err != nil {
			contract.LogFatal("Failed to get status", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteStatus(status); err != nil {
			contract.LogFatal("Failed to write status", err)
		}
	},
}

// dbExportCmd exports rollup tables to Parquet files.
var dbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export rollup tables to Parquet for BI tools and analytics",
	Long: `Write one Parquet file per rollup table into --dir. Each file carries the key
columns, the value columns and last_calculated.

Examples:
  orgpulse db export --dir ./rollups
  duckdb -c "SELECT * FROM read_parquet('rollups/rollup_team.parquet')"`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		tables, err := parquet.ExportRollups(rootCtx, db, viper.GetString("dir"))
		if err != nil {
			contract.LogFatal("Failed to export rollups", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteExport(tables); err != nil {
			contract.LogFatal("Failed to write export result", err)
		}
	},
}
