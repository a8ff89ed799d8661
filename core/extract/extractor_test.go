package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/hosted"
	"github.com/huangsam/orgpulse/internal/store"
	"github.com/huangsam/orgpulse/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const mainPatch = "diff --git a/app.go b/app.go\n--- a/app.go\n+++ b/app.go\n@@ -1 +1,2 @@\n-a\n+b\n+c\n"

// threeMerges is history with two empty merge messages and one ticket merge.
var threeMerges = record("m3", "c2 f3", "Jane Doe", "jane@corp.com", "2024-03-03T10:00:00Z", "", "") +
	record("m2", "c1 f2", "Jane Doe", "jane@corp.com", "2024-03-02T10:00:00Z",
		"Merge branch 'master' of ssh://git.example.com/cg/orders into feature/CG-25002\n\nApproved-by: Bob <bob@corp.com>", mainPatch) +
	record("m1", "c0 f1", "Jane Doe", "jane@corp.com", "2024-03-01T10:00:00Z", "", "") +
	record("c0", "", "Jane Doe", "jane@corp.com", "2024-02-28T10:00:00Z", "Initial import", mainPatch)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.Open(context.Background(), schema.SQLiteBackend, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func localRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cg", "orders")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func mockLocalGit(dir, log string) *contract.MockGitClient {
	git := &contract.MockGitClient{}
	git.On("ResolveRef", mock.Anything, dir, "HEAD").Return("master", nil)
	git.On("StreamLog", mock.Anything, dir, "HEAD").Return(log, nil)
	git.On("CountCommits", mock.Anything, dir, mock.Anything, mock.Anything).Return(int64(3), nil)
	return git
}

func TestExtract_TicketMergeScenario(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)
	git := mockLocalGit(dir, threeMerges)
	ex := New(git, s, nil, contract.DiscardLogger())

	result := ex.Extract(ctx, dir, Options{})

	require.Equal(t, schema.StatusOK, result.Status, result.Error)
	assert.Equal(t, schema.HeuristicSource, result.PRSource)
	assert.Equal(t, 4, result.CommitsSeen)
	assert.Equal(t, 4, result.CommitsNew)
	assert.Equal(t, 3, result.MergesSeen)
	assert.Equal(t, 1, result.MergesMatched)
	assert.Equal(t, map[string]int{"ticket-branch": 1}, result.MatchesByPattern)
	assert.InDelta(t, 1.0/3.0, result.DetectionRate(), 1e-9)
	assert.Equal(t, 1, result.PullRequestsNew)
	assert.Equal(t, 1, result.ApprovalsNew)

	prs, err := s.ListPullRequests(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	pr := prs[0]
	assert.Equal(t, int64(25002), pr.Number)
	assert.Equal(t, "[CG-25002] Merge branch 'master' of ssh://git.example.com/cg/orders into feature/CG-25002", pr.Title)
	assert.Equal(t, schema.HeuristicSource, pr.Source)
	assert.Equal(t, schema.MergedState, pr.State)
	assert.Equal(t, "master", pr.SourceBranch)
	assert.Equal(t, "feature/CG-25002", pr.TargetBranch)
	assert.Equal(t, int64(3), pr.CommitCount)
	assert.Equal(t, int64(3), pr.LinesChanged)
	assert.Equal(t, "m2", pr.MergeHash)
	git.AssertCalled(t, "CountCommits", mock.Anything, dir, "c1", "f2")
	git.AssertNumberOfCalls(t, "CountCommits", 1)
	git.AssertNotCalled(t, "Clone", mock.Anything, mock.Anything, mock.Anything)

	commits, err := s.ListCommitStats(ctx)
	require.NoError(t, err)
	for _, c := range commits {
		assert.Equal(t, "master", c.Branch)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)
	ex := New(mockLocalGit(dir, threeMerges), s, nil, contract.DiscardLogger())

	first := ex.Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusOK, first.Status, first.Error)

	second := ex.Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusOK, second.Status, second.Error)
	assert.Equal(t, 0, second.CommitsNew)
	assert.Equal(t, 4, second.CommitsSkipped)
	assert.Equal(t, 0, second.PullRequestsNew)
	assert.Equal(t, 0, second.ApprovalsNew)

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), status.TableRows["commits"])
	assert.Equal(t, int64(1), status.TableRows["pull_requests"])
	assert.Equal(t, int64(1), status.TableRows["approvals"])
	assert.Equal(t, int64(1), status.TableRows["repositories"])
}

func TestExtract_NewHistoryOnly(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)
	require.Equal(t, schema.StatusOK, New(mockLocalGit(dir, threeMerges), s, nil, contract.DiscardLogger()).Extract(ctx, dir, Options{}).Status)

	grown := record("m4", "m3 f4", "Bob", "bob@corp.com", "2024-03-04T10:00:00Z", "Merge pull request #40 from feature/x to master", mainPatch) + threeMerges
	result := New(mockLocalGit(dir, grown), s, nil, contract.DiscardLogger()).Extract(ctx, dir, Options{})

	require.Equal(t, schema.StatusOK, result.Status, result.Error)
	assert.Equal(t, 1, result.CommitsNew)
	assert.Equal(t, 1, result.MergesSeen)
	assert.Equal(t, 1, result.PullRequestsNew)
	assert.Equal(t, map[string]int{"pull-request-number": 1}, result.MatchesByPattern)
}

func TestExtract_ResumesAfterFailureBetweenCommitsAndPullRequests(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)

	git := &contract.MockGitClient{}
	git.On("ResolveRef", mock.Anything, dir, "HEAD").Return("master", nil)
	git.On("StreamLog", mock.Anything, dir, "HEAD").Return(threeMerges, nil)
	git.On("CountCommits", mock.Anything, dir, mock.Anything, mock.Anything).Return(int64(0), errors.New("bad object c1")).Once()
	git.On("CountCommits", mock.Anything, dir, mock.Anything, mock.Anything).Return(int64(3), nil)
	ex := New(git, s, nil, contract.DiscardLogger())

	first := ex.Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusFailed, first.Status)
	assert.Contains(t, first.Error, "bad object c1")
	assert.Equal(t, 4, first.CommitsNew)

	second := ex.Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusOK, second.Status, second.Error)
	assert.Equal(t, 0, second.CommitsNew)
	assert.Equal(t, 1, second.PullRequestsNew)
	assert.Equal(t, 1, second.ApprovalsNew)

	prs, err := s.ListPullRequests(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, int64(25002), prs[0].Number)
	assert.Equal(t, "m2", prs[0].MergeHash)
	assert.Equal(t, int64(3), prs[0].CommitCount)

	// Once the row exists, stored merges are not counted again.
	third := ex.Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusOK, third.Status, third.Error)
	assert.Equal(t, 0, third.PullRequestsNew)
	git.AssertNumberOfCalls(t, "CountCommits", 2)
}

func TestExtract_CloneIsRemovedOnEveryExit(t *testing.T) {
	for _, tc := range []struct {
		name    string
		logErr  error
		keep    bool
		want    schema.RunStatus
		entries int
	}{
		{"success", nil, false, schema.StatusOK, 0},
		{"walk failure", errors.New("broken pipe"), false, schema.StatusFailed, 0},
		{"kept for diagnostics", nil, true, schema.StatusOK, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			workDir := t.TempDir()
			locator := "https://git.example.com/scm/cg/orders.git"

			git := &contract.MockGitClient{}
			git.On("Clone", mock.Anything, locator, mock.Anything).
				Run(func(args mock.Arguments) { _ = os.MkdirAll(args.String(2), 0o755) }).
				Return(nil)
			git.On("ResolveRef", mock.Anything, mock.Anything, "HEAD").Return("master", nil)
			git.On("StreamLog", mock.Anything, mock.Anything, "HEAD").Return(threeMerges, tc.logErr)
			git.On("CountCommits", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

			result := New(git, newTestStore(t), nil, contract.DiscardLogger()).
				Extract(ctx, locator, Options{WorkDir: workDir, KeepWorkDir: tc.keep})

			assert.Equal(t, tc.want, result.Status)
			entries, err := os.ReadDir(workDir)
			require.NoError(t, err)
			assert.Len(t, entries, tc.entries)
		})
	}
}

func TestExtract_CloneFailureIsPerRepository(t *testing.T) {
	workDir := t.TempDir()
	git := &contract.MockGitClient{}
	git.On("Clone", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("could not resolve host"))

	result := New(git, newTestStore(t), nil, contract.DiscardLogger()).
		Extract(context.Background(), "https://unreachable.example.com/cg/orders.git", Options{WorkDir: workDir})

	assert.Equal(t, schema.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "could not resolve host")
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtract_AuthoritativeSuppressesHeuristics(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)
	git := mockLocalGit(dir, threeMerges)

	merged := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	api := &contract.MockHostedClient{}
	api.On("ListPullRequests", mock.Anything, "cg", "orders", schema.MergedState).
		Return([]schema.RawPullRequest{{Number: 17}}, nil)
	api.On("GetPullRequest", mock.Anything, "cg", "orders", int64(17)).
		Return(schema.RawPullRequest{Number: 17, Title: "Order export", State: schema.MergedState, MergedAt: &merged, LinesChanged: 12}, nil)
	api.On("CountCommits", mock.Anything, "cg", "orders", int64(17)).Return(int64(5), nil)
	api.On("ListApprovals", mock.Anything, "cg", "orders", int64(17)).
		Return([]schema.RawApproval{{Approver: schema.Identity{Name: "Bob"}, ApprovedAt: merged, Kind: schema.ApprovedKind}}, nil)

	result := New(git, s, api, contract.DiscardLogger()).
		Extract(ctx, dir, Options{UseAPI: true, States: []schema.PRState{schema.MergedState}})

	require.Equal(t, schema.StatusOK, result.Status, result.Error)
	assert.Equal(t, schema.APISource, result.PRSource)
	assert.Equal(t, 1, result.PullRequestsNew)
	assert.Equal(t, 1, result.ApprovalsNew)
	assert.Equal(t, 0, result.MergesMatched)
	git.AssertNotCalled(t, "CountCommits", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	prs, err := s.ListPullRequests(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, int64(17), prs[0].Number)
	assert.Equal(t, int64(5), prs[0].CommitCount)
	assert.Equal(t, schema.APISource, prs[0].Source)
}

func TestExtract_AuthoritativeReplacesEarlierHeuristicRows(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)

	first := New(mockLocalGit(dir, threeMerges), s, nil, contract.DiscardLogger()).Extract(ctx, dir, Options{})
	require.Equal(t, schema.StatusOK, first.Status, first.Error)
	require.Equal(t, 1, first.PullRequestsNew)

	merged := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	api := &contract.MockHostedClient{}
	api.On("ListPullRequests", mock.Anything, "cg", "orders", schema.MergedState).
		Return([]schema.RawPullRequest{{Number: 17}}, nil).Once()
	api.On("GetPullRequest", mock.Anything, "cg", "orders", int64(17)).
		Return(schema.RawPullRequest{Number: 17, Title: "Order export", State: schema.MergedState, MergedAt: &merged, CommitCount: 3, MergeHash: "m2"}, nil)
	api.On("ListApprovals", mock.Anything, "cg", "orders", int64(17)).
		Return([]schema.RawApproval{{Approver: schema.Identity{Name: "Carol"}, ApprovedAt: merged, Kind: schema.ApprovedKind}}, nil)
	api.On("ListPullRequests", mock.Anything, "cg", "orders", schema.MergedState).Return(nil, hosted.ErrRetriesExhausted)

	opts := Options{UseAPI: true, States: []schema.PRState{schema.MergedState}}
	second := New(mockLocalGit(dir, threeMerges), s, api, contract.DiscardLogger()).Extract(ctx, dir, opts)
	require.Equal(t, schema.StatusOK, second.Status, second.Error)
	assert.Equal(t, 1, second.PullRequestsNew)
	assert.Equal(t, 1, second.PullRequestsReplaced)

	prs, err := s.ListPullRequests(ctx)
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, int64(17), prs[0].Number)
	assert.Equal(t, schema.APISource, prs[0].Source)
	approvals, err := s.ListApprovals(ctx)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, "Carol", approvals[0].Approver.Name)

	// A later fallback run does not bring the heuristic duplicate back.
	third := New(mockLocalGit(dir, threeMerges), s, api, contract.DiscardLogger()).Extract(ctx, dir, opts)
	assert.Equal(t, schema.StatusDegraded, third.Status)
	assert.Equal(t, 0, third.PullRequestsNew)
	prs, err = s.ListPullRequests(ctx)
	require.NoError(t, err)
	assert.Len(t, prs, 1)
}

func TestExtract_FallsBackWhenAPIUnavailable(t *testing.T) {
	for _, apiErr := range []error{hosted.ErrUnauthorized, hosted.ErrNotFound, hosted.ErrRetriesExhausted} {
		t.Run(apiErr.Error(), func(t *testing.T) {
			ctx := context.Background()
			dir := localRepo(t)
			s := newTestStore(t)
			api := &contract.MockHostedClient{}
			api.On("ListPullRequests", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, apiErr)

			result := New(mockLocalGit(dir, threeMerges), s, api, contract.DiscardLogger()).
				Extract(ctx, dir, Options{UseAPI: true})

			assert.Equal(t, schema.StatusDegraded, result.Status)
			assert.Contains(t, result.Degradation, "unavailable")
			assert.Empty(t, result.Error)
			assert.Equal(t, schema.HeuristicSource, result.PRSource)
			assert.Equal(t, 1, result.PullRequestsNew)
			api.AssertNotCalled(t, "GetPullRequest", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestBatch_ContinuesPastFailuresAndDedupes(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	s := newTestStore(t)
	git := mockLocalGit(dir, threeMerges)
	ex := New(git, s, nil, contract.DiscardLogger())

	results := ex.Batch(ctx, []string{"not/a/repo", dir, dir, " "}, Options{Workers: 2})

	require.Len(t, results, 2)
	assert.Equal(t, schema.StatusFailed, results[0].Status)
	assert.Equal(t, schema.StatusOK, results[1].Status)
	assert.Equal(t, 4, results[1].CommitsNew)
	git.AssertNumberOfCalls(t, "StreamLog", 1)
}

func TestBatch_SameDirectoryNamedTwoWays(t *testing.T) {
	ctx := context.Background()
	dir := localRepo(t)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	rel, err := filepath.Rel(cwd, dir)
	require.NoError(t, err)

	git := mockLocalGit(dir, threeMerges)
	results := New(git, newTestStore(t), nil, contract.DiscardLogger()).
		Batch(ctx, []string{rel, dir, dir + string(filepath.Separator)}, Options{Workers: 3})

	require.Len(t, results, 1)
	assert.Equal(t, dir, results[0].Locator)
	assert.Equal(t, schema.StatusOK, results[0].Status, results[0].Error)
	git.AssertNumberOfCalls(t, "StreamLog", 1)
}
