// Package contract provides interfaces and shared utilities for internal architecture.
package contract

import (
	"context"
	"io"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

// GitClient defines the git operations needed to ingest repository history.
// This allows the extraction logic to be tested without needing a real git executable.
type GitClient interface {
	// Run executes a git command inside repoPath and returns its stdout.
	Run(ctx context.Context, repoPath string, args ...string) ([]byte, error)

	// Clone makes a bare copy of locator at dest.
	Clone(ctx context.Context, locator, dest string) error

	// ResolveRef returns the symbolic branch name behind ref, e.g. "master" for HEAD.
	ResolveRef(ctx context.Context, repoPath, ref string) (string, error)

	// StreamLog runs the commit log with patches for ref and hands its stdout to fn.
	StreamLog(ctx context.Context, repoPath, ref string, fn func(r io.Reader) error) error

	// CountCommits returns the number of commits reachable from include but not from exclude.
	CountCommits(ctx context.Context, repoPath, exclude, include string) (int64, error)
}

// HostedClient retrieves authoritative pull request data for a (project, repository) pair.
type HostedClient interface {
	// ListPullRequests returns every pull request in the given state.
	ListPullRequests(ctx context.Context, project, slug string, state schema.PRState) ([]schema.RawPullRequest, error)

	// GetPullRequest returns detail for one pull request, including lines changed.
	GetPullRequest(ctx context.Context, project, slug string, number int64) (schema.RawPullRequest, error)

	// ListApprovals returns the approvals recorded on one pull request.
	ListApprovals(ctx context.Context, project, slug string, number int64) ([]schema.RawApproval, error)

	// CountCommits returns the number of commits on one pull request.
	CountCommits(ctx context.Context, project, slug string, number int64) (int64, error)
}

// RawStore persists extraction output. Raw rows are append-mostly.
type RawStore interface {
	EnsureRepository(ctx context.Context, repo schema.RawRepository) (schema.RawRepository, error)
	MarkExtracted(ctx context.Context, repositoryID int64, at time.Time) error
	KnownCommits(ctx context.Context, repositoryID int64) (map[string]struct{}, error)
	InsertCommits(ctx context.Context, commits []schema.RawCommit) (int, error)
	// SavePullRequest inserts a heuristic pull request or upserts an authoritative one,
	// then inserts its approvals. It reports whether a new pull request row was created.
	SavePullRequest(ctx context.Context, pr schema.RawPullRequest) (created bool, approvals int, err error)
	// KnownPullRequests returns the number, source and merge hash of a repository's stored pull requests.
	KnownPullRequests(ctx context.Context, repositoryID int64) ([]schema.RawPullRequest, error)
	// DeleteHeuristicPullRequests drops a repository's heuristic pull requests once authoritative data replaced them.
	DeleteHeuristicPullRequests(ctx context.Context, repositoryID int64) (int, error)
}

// IdentityStore reads raw authors and staff and maintains identity mappings.
type IdentityStore interface {
	ListRawAuthors(ctx context.Context) ([]schema.RawAuthor, error)
	ListStaff(ctx context.Context) ([]schema.StaffRecord, error)
	GetStaff(ctx context.Context, staffID string) (schema.StaffRecord, bool, error)
	ListMappings(ctx context.Context) ([]schema.IdentityMapping, error)
	UpsertMapping(ctx context.Context, m schema.IdentityMapping) error
}

// SourceStore exposes the raw tables to the aggregation calculators.
type SourceStore interface {
	ListRepositories(ctx context.Context) ([]schema.RawRepository, error)
	// ListCommitStats returns every commit without its message.
	ListCommitStats(ctx context.Context) ([]schema.RawCommit, error)
	ListPullRequests(ctx context.Context) ([]schema.RawPullRequest, error)
	ListApprovals(ctx context.Context) ([]schema.RawApproval, error)
	ListMappings(ctx context.Context) ([]schema.IdentityMapping, error)
	ListStaff(ctx context.Context) ([]schema.StaffRecord, error)
}

// RollupStore reads and writes materialized rollup rows.
type RollupStore interface {
	LoadRollups(ctx context.Context, scope schema.Scope) ([]schema.RollupRecord, error)
	GetRollup(ctx context.Context, scope schema.Scope, key ...any) (schema.RollupRecord, bool, error)
	UpsertRollups(ctx context.Context, rows []schema.RollupRecord, at time.Time) error
	DeleteRollups(ctx context.Context, scope schema.Scope, keys [][]any) error
}

// RunStore records pipeline invocations.
type RunStore interface {
	BeginRun(ctx context.Context, runID string, kind schema.RunKind, startedAt time.Time) error
	EndRun(ctx context.Context, runID string, status schema.RunStatus, finishedAt time.Time, summary any) error
}

// Store is the full persisted state used by the pipeline.
type Store interface {
	RawStore
	IdentityStore
	SourceStore
	RollupStore
	RunStore
	GetStatus(ctx context.Context) (schema.StoreStatus, error)
	Close() error
}
