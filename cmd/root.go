package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/huangsam/orgpulse/core"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// All linker flags will be set by goreleaser infra at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCtx is the root context for all operations. Execute replaces it with one
// that is cancelled on SIGINT and SIGTERM so temporary clones are cleaned up.
var rootCtx = context.Background()

// cfg will hold the validated, final configuration.
var cfg = &contract.Config{}

// input holds the raw, unvalidated configuration from all sources (file, env, flags).
// Viper will unmarshal into this struct.
var input = &contract.ConfigRawInput{}

// db and pipeline are built by sharedSetup for commands that touch the store.
var (
	db       *store.SQLStore
	pipeline *core.Pipeline
)

// rootCmd is the command-line entrypoint for all other commands.
var rootCmd = &cobra.Command{
	Use:   "orgpulse",
	Short: "Turn Git history into per-person and per-team engineering metrics.",
	Long: `OrgPulse ingests commit, pull request and approval history from many repositories,
links raw commit authors to staff records and materializes rollup tables that
downstream services query by staff member or team.`,
	Version:            version,
	SilenceErrors:      true,
	SilenceUsage:       true,
	DisableSuggestions: true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// initConfig reads in config file, .env and ENV variables if set.
func initConfig() {
	// Check if a specific config file is provided
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName(".orgpulse")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
	}

	// A .env file only fills variables that are not already set
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			contract.LogWarn("Cannot load .env file", err)
		}
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("ORGPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Set defaults in Viper
	viper.SetDefault("db-backend", schema.SQLiteBackend)
	viper.SetDefault("db-connect", "")
	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", contract.LogFormatText)
	viper.SetDefault("output", schema.TextOut)
	viper.SetDefault("color", "yes")
	viper.SetDefault("workers", contract.DefaultWorkers)
	viper.SetDefault("api-platform", schema.BitbucketPlatform)
	viper.SetDefault("api-insecure", true)
	viper.SetDefault("api-page-size", contract.DefaultPageSize)
	viper.SetDefault("api-max-attempts", contract.DefaultMaxAttempts)
	viper.SetDefault("api-multiplier", contract.DefaultBackoffFactor)
	viper.SetDefault("scope", schema.AllScope)
}

// loadConfig merges file, env and flags into cfg. Locators come from positional args.
func loadConfig(locators []string) error {
	// 1. Read config file. This merges defaults, file, env, and flags.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// 2. Unmarshal all resolved values from Viper into our raw input struct.
	if err := viper.Unmarshal(input); err != nil {
		return fmt.Errorf("unable to unmarshal config: %w", err)
	}

	// 3. Handle positional arguments (which Viper doesn't do).
	input.Locators = locators

	// 4. Run all validation and complex parsing.
	return contract.ProcessAndValidate(cfg, input)
}

// sharedSetup validates configuration, opens the store and builds the pipeline.
func sharedSetup(ctx context.Context, locators []string) error {
	if err := loadConfig(locators); err != nil {
		return err
	}
	logger := contract.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	var err error
	db, err = store.Open(ctx, cfg.DBBackend, cfg.DBConnect)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.DBBackend, err)
	}
	pipeline, err = core.NewPipeline(cfg, db, contract.NewLocalGitClient(), logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	return nil
}

// sharedSetupWrapper wraps sharedSetup to provide context for Cobra's PreRunE.
// Positional args are left to the command.
func sharedSetupWrapper(_ *cobra.Command, _ []string) error {
	return sharedSetup(rootCtx, nil)
}

// extractSetupWrapper treats positional args as repository locators.
func extractSetupWrapper(_ *cobra.Command, args []string) error {
	return sharedSetup(rootCtx, args)
}

// configSetupWrapper validates configuration without opening the store,
// so migrations can run against a database in any state.
func configSetupWrapper(_ *cobra.Command, _ []string) error {
	return loadConfig(nil)
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCtx = ctx
	return rootCmd.Execute()
}

// Shutdown releases the store opened by sharedSetup.
func Shutdown() error {
	if db == nil {
		return nil
	}
	return db.Close()
}
