// Package cmd defines the command-line interface for orgpulse.
package cmd

import (
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Call initConfig on Cobra's initialization
	cobra.OnInitialize(initConfig)

	// Add primary subcommands to the root command
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(identitiesCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(rollupCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)

	// Add the identities subcommands to the parent identities command
	identitiesCmd.AddCommand(identitiesResolveCmd)
	identitiesCmd.AddCommand(identitiesMapCmd)
	identitiesCmd.AddCommand(identitiesUnmatchedCmd)

	// Add the rollup subcommands to the parent rollup command
	rollupCmd.AddCommand(rollupGetCmd)

	// Add the db subcommands to the parent db command
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbExportCmd)

	// Bind all persistent flags of rootCmd to Viper.
	// Extraction and API settings live here because the mcp server uses them too.
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("db-backend", string(schema.SQLiteBackend), "Database backend: sqlite or mysql or postgresql")
	rootCmd.PersistentFlags().String("db-connect", "", "Database connection string (file path for sqlite, DSN otherwise)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug or info or warn or error")
	rootCmd.PersistentFlags().String("log-format", contract.LogFormatText, "Log format: text or json")
	rootCmd.PersistentFlags().String("output", string(schema.TextOut), "Output format: text or json")
	rootCmd.PersistentFlags().String("output-file", "", "Optional path to write output to")
	rootCmd.PersistentFlags().String("color", "yes", "Enable colored labels in output (yes/no/true/false/1/0)")
	rootCmd.PersistentFlags().String("branch", "", "Branch to walk (default: the repository's default branch)")
	rootCmd.PersistentFlags().String("workdir", "", "Parent directory for temporary clones (default: system temp dir)")
	rootCmd.PersistentFlags().Bool("keep-workdir", false, "Keep temporary clones after extraction")
	rootCmd.PersistentFlags().Bool("use-api", false, "Use the hosted platform API for pull requests before falling back to heuristics")
	rootCmd.PersistentFlags().Int("workers", contract.DefaultWorkers, "Number of repositories extracted in parallel")
	rootCmd.PersistentFlags().String("api-platform", string(schema.BitbucketPlatform), "Hosted platform: bitbucket or github")
	rootCmd.PersistentFlags().String("api-url", "", "Base URL of the hosted platform API")
	rootCmd.PersistentFlags().String("api-token", "", "Bearer token for the hosted platform API (prefer ORGPULSE_API_TOKEN)")
	rootCmd.PersistentFlags().Bool("api-insecure", true, "Skip TLS certificate verification for the hosted platform API")
	rootCmd.PersistentFlags().Int("api-page-size", contract.DefaultPageSize, "Page size for paginated API calls")
	rootCmd.PersistentFlags().String("api-timeout", contract.DefaultAPITimeout.String(), "Timeout of a single API request")
	rootCmd.PersistentFlags().Int("api-max-attempts", contract.DefaultMaxAttempts, "Attempts per API request, including the first")
	rootCmd.PersistentFlags().String("api-base-delay", contract.DefaultBaseDelay.String(), "Delay before the first retry")
	rootCmd.PersistentFlags().Float64("api-multiplier", contract.DefaultBackoffFactor, "Backoff multiplier between retries")
	rootCmd.PersistentFlags().String("api-max-delay", contract.DefaultMaxDelay.String(), "Upper bound of a single retry delay")
	rootCmd.PersistentFlags().String("api-budget", contract.DefaultRetryBudget.String(), "Total time allowed for retries of one request")
	rootCmd.PersistentFlags().String("api-states", "", "Extra pull request states to ingest besides merged (open,declined)")
	rootCmd.PersistentFlags().String("domains", "", "Comma-separated recognized organizational email domains")
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		contract.LogFatal("Error binding root flags", err)
	}

	// Bind all flags of extractCmd to Viper
	extractCmd.Flags().String("repos-file", "", "File with one repository locator per line ('#' starts a comment)")
	if err := viper.BindPFlags(extractCmd.Flags()); err != nil {
		contract.LogFatal("Error binding extract flags", err)
	}

	// Bind all flags of identitiesResolveCmd to Viper
	identitiesResolveCmd.Flags().Bool("dry-run", false, "Preview matches without writing mappings")
	identitiesResolveCmd.Flags().Bool("rematch", false, "Re-evaluate existing non-manual mappings")
	if err := viper.BindPFlags(identitiesResolveCmd.Flags()); err != nil {
		contract.LogFatal("Error binding identities resolve flags", err)
	}

	// Bind all flags of aggregateCmd to Viper
	aggregateCmd.Flags().String("scope", string(schema.AllScope), "Calculator to run: all, daily, author, repository, commit-time, pull-request, staff, team")
	aggregateCmd.Flags().Bool("force", false, "Rewrite every row regardless of staleness")
	if err := viper.BindPFlags(aggregateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding aggregate flags", err)
	}

	// The lookup scope is read straight from the flag so it cannot collide with aggregate's --scope
	rollupGetCmd.Flags().String("scope", string(schema.StaffScope), "Rollup table to query: daily, author, repository, commit-time, pull-request, staff, team")

	// Bind all flags of dbMigrateCmd to Viper
	dbMigrateCmd.Flags().Int("target-version", -1, "Target migration version (-1 means latest, 0 means rollback to initial state)")
	if err := viper.BindPFlags(dbMigrateCmd.Flags()); err != nil {
		contract.LogFatal("Error binding db migrate flags", err)
	}

	// Bind all flags of dbExportCmd to Viper
	dbExportCmd.Flags().String("dir", "orgpulse-export", "Directory that receives one parquet file per rollup table")
	if err := viper.BindPFlags(dbExportCmd.Flags()); err != nil {
		contract.LogFatal("Error binding db export flags", err)
	}
}
