package aggregate

import (
	"context"
	"math"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
)

// lazy loads a value once per run.
type lazy[T any] struct {
	done bool
	v    T
	err  error
}

func (l *lazy[T]) get(load func() (T, error)) (T, error) {
	if !l.done {
		l.v, l.err = load()
		l.done = true
	}
	return l.v, l.err
}

// Inputs gives calculators the raw tables, loaded at most once per run,
// and the current content of upstream rollup tables.
type Inputs struct {
	source  contract.SourceStore
	rollups contract.RollupStore

	repos     lazy[[]schema.RawRepository]
	commits   lazy[[]schema.RawCommit]
	prs       lazy[[]schema.RawPullRequest]
	approvals lazy[[]schema.RawApproval]
	mappings  lazy[[]schema.IdentityMapping]
	staff     lazy[[]schema.StaffRecord]
}

// NewInputs returns Inputs reading from the given stores.
func NewInputs(source contract.SourceStore, rollups contract.RollupStore) *Inputs {
	return &Inputs{source: source, rollups: rollups}
}

// Repositories returns every extracted repository.
func (in *Inputs) Repositories(ctx context.Context) ([]schema.RawRepository, error) {
	return in.repos.get(func() ([]schema.RawRepository, error) { return in.source.ListRepositories(ctx) })
}

// Commits returns the stored commits with their change statistics.
func (in *Inputs) Commits(ctx context.Context) ([]schema.RawCommit, error) {
	return in.commits.get(func() ([]schema.RawCommit, error) { return in.source.ListCommitStats(ctx) })
}

// PullRequests returns the stored pull requests from either source.
func (in *Inputs) PullRequests(ctx context.Context) ([]schema.RawPullRequest, error) {
	return in.prs.get(func() ([]schema.RawPullRequest, error) { return in.source.ListPullRequests(ctx) })
}

// Approvals returns every stored approval.
func (in *Inputs) Approvals(ctx context.Context) ([]schema.RawApproval, error) {
	return in.approvals.get(func() ([]schema.RawApproval, error) { return in.source.ListApprovals(ctx) })
}

// Mappings returns the identity mappings linking raw authors to staff.
func (in *Inputs) Mappings(ctx context.Context) ([]schema.IdentityMapping, error) {
	return in.mappings.get(func() ([]schema.IdentityMapping, error) { return in.source.ListMappings(ctx) })
}

// Staff returns the staff directory.
func (in *Inputs) Staff(ctx context.Context) ([]schema.StaffRecord, error) {
	return in.staff.get(func() ([]schema.StaffRecord, error) { return in.source.ListStaff(ctx) })
}

// Rollups reads an upstream rollup table. It is never cached, so a calculator
// sees what its dependencies wrote earlier in the same run.
func (in *Inputs) Rollups(ctx context.Context, scope schema.Scope) ([]schema.RollupRecord, error) {
	return in.rollups.LoadRollups(ctx, scope)
}

// dayOf formats a timestamp as its UTC calendar day.
func dayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// round2 rounds a ratio to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ratio divides and rounds, returning 0 for an empty denominator.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return round2(float64(num) / float64(den))
}

// latest returns the later of two timestamps.
func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// span tracks the first and last day seen.
type span struct {
	first, last string
}

func (s *span) add(day string) {
	if s.first == "" || day < s.first {
		s.first = day
	}
	if day > s.last {
		s.last = day
	}
}

// addCommit folds one commit into the counters. Call finish once all commits are added.
func addCommit(c *schema.CommitCounters, commit schema.RawCommit) {
	c.Commits++
	if commit.IsMerge {
		c.MergeCommits++
	}
	c.LinesAdded += commit.LinesAdded
	c.LinesDeleted += commit.LinesDeleted
	c.CharsAdded += commit.CharsAdded
	c.CharsDeleted += commit.CharsDeleted
	c.FilesChanged += commit.FilesChanged
}

// addCounters folds one set of counters into another.
func addCounters(dst *schema.CommitCounters, src schema.CommitCounters) {
	dst.Commits += src.Commits
	dst.MergeCommits += src.MergeCommits
	dst.LinesAdded += src.LinesAdded
	dst.LinesDeleted += src.LinesDeleted
	dst.CharsAdded += src.CharsAdded
	dst.CharsDeleted += src.CharsDeleted
	dst.FilesChanged += src.FilesChanged
}

// finish derives the ratio from the additive counters.
func finish(c *schema.CommitCounters) {
	c.AvgLinesPerCommit = ratio(c.LinesAdded+c.LinesDeleted, c.Commits)
}
