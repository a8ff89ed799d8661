package contract

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInput() *ConfigRawInput {
	return &ConfigRawInput{
		DBBackend: string(schema.SQLiteBackend),
		DBConnect: ":memory:",
		Output:    "text",
		Color:     "no",
	}
}

func TestProcessAndValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*ConfigRawInput)
		expectError bool
	}{
		{name: "valid minimal config", mutate: func(*ConfigRawInput) {}},
		{name: "invalid backend", mutate: func(in *ConfigRawInput) { in.DBBackend = "oracle" }, expectError: true},
		{name: "invalid output", mutate: func(in *ConfigRawInput) { in.Output = "csv" }, expectError: true},
		{name: "invalid color", mutate: func(in *ConfigRawInput) { in.Color = "maybe" }, expectError: true},
		{name: "invalid log level", mutate: func(in *ConfigRawInput) { in.LogLevel = "loud" }, expectError: true},
		{name: "invalid log format", mutate: func(in *ConfigRawInput) { in.LogFormat = "xml" }, expectError: true},
		{name: "too many workers", mutate: func(in *ConfigRawInput) { in.Workers = MaxWorkers + 1 }, expectError: true},
		{name: "invalid scope", mutate: func(in *ConfigRawInput) { in.Scope = "weekly" }, expectError: true},
		{name: "invalid platform", mutate: func(in *ConfigRawInput) { in.APIPlatform = "gitlab" }, expectError: true},
		{name: "invalid api duration", mutate: func(in *ConfigRawInput) { in.APITimeout = "soon" }, expectError: true},
		{name: "invalid state", mutate: func(in *ConfigRawInput) { in.APIStates = "open,closed" }, expectError: true},
		{
			name:        "bitbucket api requires url",
			mutate:      func(in *ConfigRawInput) { in.UseAPI = true },
			expectError: true,
		},
		{
			name: "api url must be encrypted",
			mutate: func(in *ConfigRawInput) {
				in.UseAPI = true
				in.APIURL = "http://bitbucket.internal"
			},
			expectError: true,
		},
		{
			name: "github api without url uses public endpoint",
			mutate: func(in *ConfigRawInput) {
				in.UseAPI = true
				in.APIPlatform = "github"
			},
		},
		{
			name: "mysql without connection string",
			mutate: func(in *ConfigRawInput) {
				in.DBBackend = "mysql"
				in.DBConnect = ""
			},
			expectError: true,
		},
		{
			name: "postgres keyword string missing dbname",
			mutate: func(in *ConfigRawInput) {
				in.DBBackend = "postgresql"
				in.DBConnect = "host=localhost user=x"
			},
			expectError: true,
		},
		{
			name: "postgres url",
			mutate: func(in *ConfigRawInput) {
				in.DBBackend = "postgresql"
				in.DBConnect = "postgres://u:p@localhost:5432/orgpulse"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := validInput()
			tt.mutate(input)
			cfg := &Config{}
			err := ProcessAndValidate(cfg, input)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProcessAndValidateDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(cfg, validInput()))

	assert.Equal(t, schema.SQLiteBackend, cfg.DBBackend)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, LogFormatText, cfg.LogFormat)
	assert.Equal(t, DefaultWorkers, cfg.Extract.Workers)
	assert.Equal(t, schema.BitbucketPlatform, cfg.API.Platform)
	assert.Equal(t, DefaultPageSize, cfg.API.PageSize)
	assert.Equal(t, DefaultMaxAttempts, cfg.API.MaxAttempts)
	assert.Equal(t, DefaultBaseDelay, cfg.API.BaseDelay)
	assert.Equal(t, DefaultRetryBudget, cfg.API.Budget)
	assert.Equal(t, []schema.PRState{schema.MergedState}, cfg.API.States)
	assert.Equal(t, schema.AllScope, cfg.Aggregate.Scope)
	assert.False(t, cfg.UseColors)
}

func TestProcessAndValidateIdentityDomains(t *testing.T) {
	input := validInput()
	input.Domains = " Corp.Example, @corp.example ,,eng.corp.example"
	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(cfg, input))
	assert.Equal(t, []string{"corp.example", "eng.corp.example"}, cfg.Identity.Domains)
}

func TestProcessAndValidateReposFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repos.txt")
	content := "# platform repos\nhttps://git.example.com/scm/CG/core.git\n\nhttps://git.example.com/scm/CG/web.git\nhttps://git.example.com/scm/CG/core.git\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	input := validInput()
	input.Locators = []string{"/srv/repos/local"}
	input.ReposFile = path
	cfg := &Config{}
	require.NoError(t, ProcessAndValidate(cfg, input))
	assert.Equal(t, []string{
		"/srv/repos/local",
		"https://git.example.com/scm/CG/core.git",
		"https://git.example.com/scm/CG/web.git",
	}, cfg.Extract.Locators)
}

func TestNormalizeConnectionStringMySQL(t *testing.T) {
	dsn, err := NormalizeConnectionString(schema.MySQLBackend, "user:pass@tcp(localhost:3306)/orgpulse")
	require.NoError(t, err)
	assert.Contains(t, dsn, "parseTime=true")

	_, err = NormalizeConnectionString(schema.MySQLBackend, "user:pass@tcp(localhost:3306)/")
	assert.Error(t, err)
}

func TestParsePRStates(t *testing.T) {
	states, err := ParsePRStates("declined, OPEN,merged")
	require.NoError(t, err)
	assert.Equal(t, []schema.PRState{schema.MergedState, schema.DeclinedState, schema.OpenState}, states)
}

func TestParseDurationOr(t *testing.T) {
	d, err := ParseDurationOr("", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOr("250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOr("-1s", time.Second)
	assert.Error(t, err)
}
