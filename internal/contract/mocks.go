package contract

import (
	"context"
	"io"
	"strings"

	"github.com/huangsam/orgpulse/schema"
	"github.com/stretchr/testify/mock"
)

// MockGitClient is a mock implementation of GitClient for testing.
type MockGitClient struct {
	mock.Mock
}

var _ GitClient = &MockGitClient{} // Compile-time check

// Run implements the GitClient interface.
func (m *MockGitClient) Run(ctx context.Context, repoPath string, args ...string) ([]byte, error) {
	ret := m.Called(ctx, repoPath, args)
	out, _ := ret.Get(0).([]byte)
	return out, ret.Error(1)
}

// Clone implements the GitClient interface.
func (m *MockGitClient) Clone(ctx context.Context, locator, dest string) error {
	return m.Called(ctx, locator, dest).Error(0)
}

// ResolveRef implements the GitClient interface.
func (m *MockGitClient) ResolveRef(ctx context.Context, repoPath, ref string) (string, error) {
	ret := m.Called(ctx, repoPath, ref)
	return ret.String(0), ret.Error(1)
}

// StreamLog implements the GitClient interface. The first return value is the raw log text.
func (m *MockGitClient) StreamLog(ctx context.Context, repoPath, ref string, fn func(r io.Reader) error) error {
	ret := m.Called(ctx, repoPath, ref)
	if err := ret.Error(1); err != nil {
		return err
	}
	return fn(strings.NewReader(ret.String(0)))
}

// CountCommits implements the GitClient interface.
func (m *MockGitClient) CountCommits(ctx context.Context, repoPath, exclude, include string) (int64, error) {
	ret := m.Called(ctx, repoPath, exclude, include)
	n, _ := ret.Get(0).(int64)
	return n, ret.Error(1)
}

// MockHostedClient is a mock implementation of HostedClient for testing.
type MockHostedClient struct {
	mock.Mock
}

var _ HostedClient = &MockHostedClient{} // Compile-time check

// ListPullRequests implements the HostedClient interface.
func (m *MockHostedClient) ListPullRequests(ctx context.Context, project, slug string, state schema.PRState) ([]schema.RawPullRequest, error) {
	ret := m.Called(ctx, project, slug, state)
	prs, _ := ret.Get(0).([]schema.RawPullRequest)
	return prs, ret.Error(1)
}

// GetPullRequest implements the HostedClient interface.
func (m *MockHostedClient) GetPullRequest(ctx context.Context, project, slug string, number int64) (schema.RawPullRequest, error) {
	ret := m.Called(ctx, project, slug, number)
	pr, _ := ret.Get(0).(schema.RawPullRequest)
	return pr, ret.Error(1)
}

// ListApprovals implements the HostedClient interface.
func (m *MockHostedClient) ListApprovals(ctx context.Context, project, slug string, number int64) ([]schema.RawApproval, error) {
	ret := m.Called(ctx, project, slug, number)
	approvals, _ := ret.Get(0).([]schema.RawApproval)
	return approvals, ret.Error(1)
}

// CountCommits implements the HostedClient interface.
func (m *MockHostedClient) CountCommits(ctx context.Context, project, slug string, number int64) (int64, error) {
	ret := m.Called(ctx, project, slug, number)
	n, _ := ret.Get(0).(int64)
	return n, ret.Error(1)
}
