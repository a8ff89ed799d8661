//go:build basic || database

// Package integration runs the orgpulse binary against real git repositories
// and real databases. Run with: go test -tags basic ./integration
// or, with Docker available: go test -tags database ./integration
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// sharedBinaryPath holds the path to a shared orgpulse binary built once for all tests.
	sharedBinaryPath string

	// buildOnce ensures we only build the binary once.
	buildOnce sync.Once

	// tempDir holds the temp directory for cleanup.
	tempDir string
)

// TestMain handles setup and cleanup for all integration tests.
func TestMain(m *testing.M) {
	code := m.Run()

	// Cleanup the shared binary after all tests
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}

	os.Exit(code)
}

// getBinary returns the path to the orgpulse binary, building it once if needed.
func getBinary() string {
	buildOnce.Do(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "orgpulse-integration-*")
		if err != nil {
			panic(fmt.Sprintf("failed to create temp dir: %v", err))
		}

		binaryPath := filepath.Join(tempDir, "orgpulse")
		buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
		buildCmd.Dir = ".." // Build from project root
		if out, err := buildCmd.CombinedOutput(); err != nil {
			panic(fmt.Sprintf("failed to build orgpulse: %v\n%s", err, out))
		}

		sharedBinaryPath = binaryPath
	})

	return sharedBinaryPath
}

// runOrgpulse runs the binary with the given environment and returns stdout.
func runOrgpulse(t *testing.T, env []string, args ...string) []byte {
	t.Helper()
	cmd := exec.Command(getBinary(), args...)
	cmd.Dir = t.TempDir() // keep stray config files out of the picture
	cmd.Env = append(os.Environ(), env...)
	var stderr []byte
	out, err := cmd.Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		stderr = exitErr.Stderr
	}
	require.NoError(t, err, "orgpulse %v failed\nstdout: %s\nstderr: %s", args, out, stderr)
	return out
}

// runJSON runs the binary with --output json and decodes stdout into v.
func runJSON(t *testing.T, env []string, v any, args ...string) {
	t.Helper()
	out := runOrgpulse(t, env, append(args, "--output", "json")...)
	require.NoError(t, json.Unmarshal(out, v), "stdout: %s", out)
}

// git runs a git command in dir with a fixed identity and clock.
func git(t *testing.T, dir, name, email, date string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+name, "GIT_AUTHOR_EMAIL="+email, "GIT_AUTHOR_DATE="+date,
		"GIT_COMMITTER_NAME="+name, "GIT_COMMITTER_EMAIL="+email, "GIT_COMMITTER_DATE="+date,
		"GIT_CONFIG_NOSYSTEM=1", "HOME="+dir,
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// fixtureRepo builds <tmp>/cg/orders with two commits by Jane, one feature commit
// by Bob and a pull request merge commit.
func fixtureRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := filepath.Join(t.TempDir(), "cg", "orders")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	const jane, janeMail = "Jane Doe", "jane.doe@externalmail.com"
	const bob, bobMail = "Bob Stone", "bob@corp.example"

	git(t, dir, jane, janeMail, "2024-03-01T10:00:00Z", "init", "-q", "-b", "master")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.go"), []byte("package app\n"), 0o644))
	git(t, dir, jane, janeMail, "2024-03-01T10:00:00Z", "add", ".")
	git(t, dir, jane, janeMail, "2024-03-01T10:00:00Z", "commit", "-q", "-m", "Initial import")

	git(t, dir, bob, bobMail, "2024-03-02T09:00:00Z", "checkout", "-q", "-b", "feature/CG-7")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.go"), []byte("package app\n\nfunc Orders() {}\n"), 0o644))
	git(t, dir, bob, bobMail, "2024-03-02T09:00:00Z", "add", ".")
	git(t, dir, bob, bobMail, "2024-03-02T09:00:00Z", "commit", "-q", "-m", "Add orders")

	git(t, dir, jane, janeMail, "2024-03-02T11:00:00Z", "checkout", "-q", "master")
	git(t, dir, jane, janeMail, "2024-03-02T11:00:00Z", "merge", "-q", "--no-ff", "feature/CG-7",
		"-m", "Merge pull request #7 in CG/orders from feature/CG-7 to master\n\nApproved-by: Bob Stone <bob@corp.example>")
	return dir
}

// seedStaff writes the staff directory the fixture authors resolve against.
// Staff ingestion happens outside orgpulse, so the store is written directly.
func seedStaff(t *testing.T, backend schema.DatabaseBackend, dsn string) {
	t.Helper()
	ctx := context.Background()
	dsn, err := contract.NormalizeConnectionString(backend, dsn)
	require.NoError(t, err)
	s, err := store.Open(ctx, backend, dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.UpsertStaff(ctx, []schema.StaffRecord{
		{StaffID: "S7", Name: "Jane Doe", Email: "jane.doe@corp.example", Status: schema.StaffActive, Unit: "Payments"},
		{StaffID: "S8", Name: "Bob Stone", Email: "bob@corp.example", Status: schema.StaffActive, Unit: "Payments"},
	}))
}

// runPipelineFlow drives every stage through the CLI against one database.
func runPipelineFlow(t *testing.T, backend schema.DatabaseBackend, dsn string) {
	t.Helper()
	env := []string{
		"ORGPULSE_DB_BACKEND=" + string(backend),
		"ORGPULSE_DB_CONNECT=" + dsn,
		"ORGPULSE_DOMAINS=corp.example",
	}
	repo := fixtureRepo(t)

	var migration struct {
		To int `json:"to"`
	}
	runJSON(t, env, &migration, "db", "migrate")
	assert.Positive(t, migration.To)

	seedStaff(t, backend, dsn)

	var extract schema.ExtractSummary
	runJSON(t, env, &extract, "extract", repo)
	require.Len(t, extract.Repositories, 1)
	assert.Equal(t, schema.StatusOK, extract.Repositories[0].Status)
	assert.Equal(t, 3, extract.Repositories[0].CommitsNew)
	assert.Equal(t, 1, extract.Repositories[0].PullRequestsNew)

	// A second pass finds nothing new.
	runJSON(t, env, &extract, "extract", repo)
	assert.Equal(t, 0, extract.Repositories[0].CommitsNew)

	var preview schema.ResolveSummary
	runJSON(t, env, &preview, "identities", "resolve", "--dry-run")
	assert.Len(t, preview.Matched, 2)
	assert.Zero(t, preview.Written)

	var resolve schema.ResolveSummary
	runJSON(t, env, &resolve, "identities", "resolve")
	assert.Equal(t, 2, resolve.Written)
	assert.Empty(t, resolve.Unmatched)

	var agg schema.AggregateSummary
	runJSON(t, env, &agg, "aggregate")
	for _, c := range agg.Calculators {
		assert.Equal(t, schema.StatusOK, c.Status, c.Scope)
	}
	assert.Positive(t, agg.Recalculated())

	// Nothing changed, so an incremental pass rewrites nothing.
	runJSON(t, env, &agg, "aggregate")
	assert.Zero(t, agg.Recalculated())

	var jane schema.StaffRollup
	runJSON(t, env, &jane, "rollup", "get", "S7", "--scope", "staff")
	assert.Equal(t, int64(2), jane.Commits)
	assert.Equal(t, int64(1), jane.PRsAuthored)

	var bob schema.StaffRollup
	runJSON(t, env, &bob, "rollup", "get", "S8", "--scope", "staff")
	assert.Equal(t, int64(1), bob.Commits)

	var team schema.TeamRollup
	runJSON(t, env, &team, "rollup", "get", "Payments", "--scope", "team")
	assert.Equal(t, int64(2), team.Contributors)

	var status schema.StoreStatus
	runJSON(t, env, &status, "db", "status")
	assert.True(t, status.Connected)
	assert.Equal(t, migration.To, status.SchemaVersion)
	assert.Equal(t, int64(3), status.TableRows["commits"])
	assert.Equal(t, int64(1), status.TableRows["pull_requests"])
	assert.Equal(t, int64(2), status.TableRows["identity_mappings"])
	assert.NotEmpty(t, status.RecentRuns)
}
