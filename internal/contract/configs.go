package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
)

// Default values for configuration.
const (
	DefaultWorkers        = 1
	MaxWorkers            = 32
	DefaultPageSize       = 25
	DefaultAPITimeout     = 30 * time.Second
	DefaultMaxAttempts    = 5
	DefaultBaseDelay      = time.Second
	DefaultBackoffFactor  = 2.0
	DefaultMaxDelay       = 30 * time.Second
	DefaultRetryBudget    = 2 * time.Minute
	DefaultSQLiteFileName = "orgpulse.db"
)

// ExtractConfig holds settings for the history extractor.
type ExtractConfig struct {
	Locators    []string
	Branch      string // empty means the default branch (HEAD)
	WorkDir     string // parent of temporary clones; empty means os.TempDir
	KeepWorkDir bool
	UseAPI      bool
	Workers     int
}

// APIConfig holds settings for the hosted Git platform client.
type APIConfig struct {
	Platform    schema.APIPlatform
	BaseURL     string
	Token       string // Please use env var as this is plaintext
	Insecure    bool
	PageSize    int
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Budget      time.Duration
	States      []schema.PRState
}

// IdentityConfig holds settings for identity resolution.
type IdentityConfig struct {
	Domains []string
	DryRun  bool
	Rematch bool
}

// AggregateConfig holds settings for the metrics aggregator.
type AggregateConfig struct {
	Scope schema.Scope
	Force bool
}

// Config holds the runtime configuration for the pipeline.
// This struct remains the "final, validated" config.
type Config struct {
	DBBackend schema.DatabaseBackend
	DBConnect string // Please use env var as this is plaintext

	LogLevel  logrus.Level
	LogFormat string

	Output     schema.OutputMode
	OutputFile string
	UseColors  bool

	Extract   ExtractConfig
	API       APIConfig
	Identity  IdentityConfig
	Aggregate AggregateConfig
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	// This is set manually from positional args, so no tag
	Locators []string

	// --- Fields from rootCmd.PersistentFlags() ---
	DBBackend  string `mapstructure:"db-backend"`
	DBConnect  string `mapstructure:"db-connect"`
	LogLevel   string `mapstructure:"log-level"`
	LogFormat  string `mapstructure:"log-format"`
	Output     string `mapstructure:"output"`
	OutputFile string `mapstructure:"output-file"`
	Color      string `mapstructure:"color"`

	// --- Fields from extractCmd.Flags() ---
	ReposFile   string `mapstructure:"repos-file"`
	Branch      string `mapstructure:"branch"`
	WorkDir     string `mapstructure:"workdir"`
	KeepWorkDir bool   `mapstructure:"keep-workdir"`
	UseAPI      bool   `mapstructure:"use-api"`
	Workers     int    `mapstructure:"workers"`

	// --- Hosted API settings ---
	APIPlatform    string  `mapstructure:"api-platform"`
	APIURL         string  `mapstructure:"api-url"`
	APIToken       string  `mapstructure:"api-token"`
	APIInsecure    bool    `mapstructure:"api-insecure"`
	APIPageSize    int     `mapstructure:"api-page-size"`
	APITimeout     string  `mapstructure:"api-timeout"`
	APIMaxAttempts int     `mapstructure:"api-max-attempts"`
	APIBaseDelay   string  `mapstructure:"api-base-delay"`
	APIMultiplier  float64 `mapstructure:"api-multiplier"`
	APIMaxDelay    string  `mapstructure:"api-max-delay"`
	APIBudget      string  `mapstructure:"api-budget"`
	APIStates      string  `mapstructure:"api-states"`

	// --- Fields from identitiesResolveCmd.Flags() ---
	Domains string `mapstructure:"domains"`
	DryRun  bool   `mapstructure:"dry-run"`
	Rematch bool   `mapstructure:"rematch"`

	// --- Fields from aggregateCmd.Flags() ---
	Scope string `mapstructure:"scope"`
	Force bool   `mapstructure:"force"`
}

// ProcessAndValidate performs all parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(cfg *Config, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := validateBackendConfig(cfg, input); err != nil {
		return err
	}
	if err := processExtractConfig(cfg, input); err != nil {
		return err
	}
	if err := processAPIConfig(cfg, input); err != nil {
		return err
	}
	processIdentityConfig(cfg, input)
	return processAggregateConfig(cfg, input)
}

// validateSimpleInputs processes logging and output fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.OutputFile = input.OutputFile

	colors, err := ParseBoolString(input.Color)
	if err != nil {
		return fmt.Errorf("invalid --color value: %w", err)
	}
	cfg.UseColors = colors

	level := input.LogLevel
	if level == "" {
		level = logrus.InfoLevel.String()
	}
	cfg.LogLevel, err = logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level '%s': %w", input.LogLevel, err)
	}

	cfg.LogFormat = strings.ToLower(input.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = LogFormatText
	}
	if cfg.LogFormat != LogFormatText && cfg.LogFormat != LogFormatJSON {
		return fmt.Errorf("invalid log format '%s'. must be text, json", input.LogFormat)
	}

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if cfg.Output == "" {
		cfg.Output = schema.TextOut
	}
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, json", input.Output)
	}
	return nil
}

// validateBackendConfig validates the database backend and its connection string.
func validateBackendConfig(cfg *Config, input *ConfigRawInput) error {
	cfg.DBBackend = schema.DatabaseBackend(strings.ToLower(input.DBBackend))
	if cfg.DBBackend == "" {
		cfg.DBBackend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.DBBackend]; !ok {
		return fmt.Errorf("invalid db backend '%s'. must be sqlite, mysql, postgresql", input.DBBackend)
	}
	connStr, err := NormalizeConnectionString(cfg.DBBackend, input.DBConnect)
	if err != nil {
		return err
	}
	cfg.DBConnect = connStr
	return nil
}

// NormalizeConnectionString validates a connection string and fills backend defaults.
// SQLite falls back to a file in the user's home directory. MySQL DSNs are forced to parse times.
func NormalizeConnectionString(backend schema.DatabaseBackend, connStr string) (string, error) {
	switch backend {
	case schema.SQLiteBackend:
		if connStr == "" {
			return DefaultSQLitePath(), nil
		}
		return connStr, nil
	case schema.MySQLBackend:
		if connStr == "" {
			return "", fmt.Errorf("db-connect is required when using %s backend", backend)
		}
		dsn, err := mysql.ParseDSN(connStr)
		if err != nil {
			return "", fmt.Errorf("invalid MySQL connection string: %w", err)
		}
		if dsn.DBName == "" {
			return "", fmt.Errorf("MySQL connection string must contain '/' followed by database name")
		}
		dsn.ParseTime = true
		dsn.MultiStatements = true
		dsn.Loc = time.UTC
		return dsn.FormatDSN(), nil
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return "", fmt.Errorf("db-connect is required when using %s backend", backend)
		}
		if !strings.HasPrefix(connStr, "postgres://") && !strings.HasPrefix(connStr, "postgresql://") {
			if !strings.Contains(connStr, "host=") {
				return "", fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
			}
			if !strings.Contains(connStr, "dbname=") {
				return "", fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
			}
		}
		return connStr, nil
	}
	return "", fmt.Errorf("unsupported backend: %s", backend)
}

// DefaultSQLitePath returns the default SQLite database location.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultSQLiteFileName
	}
	return filepath.Join(home, "."+DefaultSQLiteFileName)
}

// processExtractConfig handles locators, the repos file and working area settings.
func processExtractConfig(cfg *Config, input *ConfigRawInput) error {
	locators := slices.Clone(input.Locators)
	if input.ReposFile != "" {
		data, err := os.ReadFile(input.ReposFile)
		if err != nil {
			return fmt.Errorf("cannot read repos file: %w", err)
		}
		locators = append(locators, ParseLocatorList(string(data))...)
	}
	cfg.Extract = ExtractConfig{
		Locators:    DedupeStrings(locators),
		Branch:      strings.TrimSpace(input.Branch),
		WorkDir:     input.WorkDir,
		KeepWorkDir: input.KeepWorkDir,
		UseAPI:      input.UseAPI,
		Workers:     input.Workers,
	}
	if cfg.Extract.Workers == 0 {
		cfg.Extract.Workers = DefaultWorkers
	}
	if cfg.Extract.Workers < 0 || cfg.Extract.Workers > MaxWorkers {
		return fmt.Errorf("workers must be between 1 and %d (received %d)", MaxWorkers, input.Workers)
	}
	if cfg.Extract.WorkDir != "" {
		info, err := os.Stat(cfg.Extract.WorkDir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("workdir %q is not a directory", cfg.Extract.WorkDir)
		}
	}
	return nil
}

// processAPIConfig handles the hosted platform client settings.
func processAPIConfig(cfg *Config, input *ConfigRawInput) error {
	api := APIConfig{
		Platform:    schema.APIPlatform(strings.ToLower(input.APIPlatform)),
		BaseURL:     strings.TrimRight(strings.TrimSpace(input.APIURL), "/"),
		Token:       input.APIToken,
		Insecure:    input.APIInsecure,
		PageSize:    input.APIPageSize,
		MaxAttempts: input.APIMaxAttempts,
		Multiplier:  input.APIMultiplier,
	}
	if api.Platform == "" {
		api.Platform = schema.BitbucketPlatform
	}
	if _, ok := schema.ValidAPIPlatforms[api.Platform]; !ok {
		return fmt.Errorf("invalid api platform '%s'. must be bitbucket, github", input.APIPlatform)
	}
	if api.PageSize <= 0 {
		api.PageSize = DefaultPageSize
	}
	if api.MaxAttempts <= 0 {
		api.MaxAttempts = DefaultMaxAttempts
	}
	if api.Multiplier < 1 {
		api.Multiplier = DefaultBackoffFactor
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"api-timeout", input.APITimeout, DefaultAPITimeout, &api.Timeout},
		{"api-base-delay", input.APIBaseDelay, DefaultBaseDelay, &api.BaseDelay},
		{"api-max-delay", input.APIMaxDelay, DefaultMaxDelay, &api.MaxDelay},
		{"api-budget", input.APIBudget, DefaultRetryBudget, &api.Budget},
	}
	for _, d := range durations {
		v, err := ParseDurationOr(d.raw, d.def)
		if err != nil {
			return fmt.Errorf("invalid --%s value: %w", d.name, err)
		}
		*d.dst = v
	}

	states, err := ParsePRStates(input.APIStates)
	if err != nil {
		return err
	}
	api.States = states

	if cfg.Extract.UseAPI {
		if api.BaseURL == "" && api.Platform == schema.BitbucketPlatform {
			return fmt.Errorf("api-url is required when use-api is set for %s", api.Platform)
		}
		if api.BaseURL != "" && !strings.HasPrefix(api.BaseURL, "https://") {
			return fmt.Errorf("api-url must use https (received %q)", api.BaseURL)
		}
	}
	cfg.API = api
	return nil
}

// processIdentityConfig handles recognized domains and resolution modes.
func processIdentityConfig(cfg *Config, input *ConfigRawInput) {
	cfg.Identity = IdentityConfig{
		Domains: ParseDomains(input.Domains),
		DryRun:  input.DryRun,
		Rematch: input.Rematch,
	}
}

// processAggregateConfig handles scope and force.
func processAggregateConfig(cfg *Config, input *ConfigRawInput) error {
	scope := schema.Scope(strings.ToLower(strings.TrimSpace(input.Scope)))
	if scope == "" {
		scope = schema.AllScope
	}
	if _, ok := schema.ValidScopes[scope]; !ok {
		return fmt.Errorf("invalid scope '%s'. must be all, daily, author, repository, commit-time, pull-request, staff, team", input.Scope)
	}
	cfg.Aggregate = AggregateConfig{Scope: scope, Force: input.Force}
	return nil
}

// ParseDomains parses a comma-separated domain list into lowercase domains without a leading '@'.
func ParseDomains(s string) []string {
	var domains []string
	for d := range strings.SplitSeq(s, ",") {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return DedupeStrings(domains)
}

// ParsePRStates parses a comma-separated state list. Merged is always included.
func ParsePRStates(s string) ([]schema.PRState, error) {
	states := []schema.PRState{schema.MergedState}
	for part := range strings.SplitSeq(s, ",") {
		st := schema.PRState(strings.ToLower(strings.TrimSpace(part)))
		if st == "" || st == schema.MergedState {
			continue
		}
		if _, ok := schema.ValidPRStates[st]; !ok {
			return nil, fmt.Errorf("invalid pull request state '%s'. must be open, merged, declined", part)
		}
		if !slices.Contains(states, st) {
			states = append(states, st)
		}
	}
	return states, nil
}
