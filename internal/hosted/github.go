package hosted

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v62/github"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
)

// GitHubClient reads pull requests through the GitHub REST API.
// The project is the repository owner and the slug is the repository name.
type GitHubClient struct {
	gh       *github.Client
	pageSize int
}

var _ contract.HostedClient = &GitHubClient{} // Compile-time check

// NewGitHubClient returns a client for github.com, or for an Enterprise server when baseURL is set.
func NewGitHubClient(httpClient *http.Client, baseURL string, pageSize int) (*GitHubClient, error) {
	if pageSize <= 0 {
		pageSize = contract.DefaultPageSize
	}
	gh := github.NewClient(httpClient)
	if baseURL != "" {
		var err error
		if gh, err = gh.WithEnterpriseURLs(baseURL, baseURL); err != nil {
			return nil, fmt.Errorf("invalid github base url %q: %w", baseURL, err)
		}
	}
	return &GitHubClient{gh: gh, pageSize: pageSize}, nil
}

// classify maps go-github failures onto the package's error taxonomy.
func classify(resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: err.Error()}
		if resp.Request != nil {
			apiErr.URL = resp.Request.URL.String()
		}
		return apiErr
	}
	return err
}

func githubUser(u *github.User) schema.Identity {
	if u == nil {
		return schema.Identity{}
	}
	name := u.GetName()
	if name == "" {
		name = u.GetLogin()
	}
	return schema.Identity{Name: name, Email: u.GetEmail()}
}

func githubState(pr *github.PullRequest) schema.PRState {
	switch {
	case pr.MergedAt != nil:
		return schema.MergedState
	case pr.GetState() == "closed":
		return schema.DeclinedState
	}
	return schema.OpenState
}

func githubPullRequest(pr *github.PullRequest) schema.RawPullRequest {
	raw := schema.RawPullRequest{
		Number:       int64(pr.GetNumber()),
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		Author:       githubUser(pr.User),
		CreatedAt:    pr.GetCreatedAt().UTC(),
		State:        githubState(pr),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		CommitCount:  int64(pr.GetCommits()),
		LinesChanged: int64(pr.GetAdditions() + pr.GetDeletions()),
		Source:       schema.APISource,
		MergeHash:    pr.GetMergeCommitSHA(),
	}
	if pr.MergedAt != nil {
		merged := pr.MergedAt.UTC()
		raw.MergedAt = &merged
	}
	return raw
}

// ListPullRequests implements contract.HostedClient.
// GitHub has no declined state, so merged and declined both page through closed pull requests.
func (c *GitHubClient) ListPullRequests(ctx context.Context, project, slug string, state schema.PRState) ([]schema.RawPullRequest, error) {
	apiState := "closed"
	if state == schema.OpenState {
		apiState = "open"
	}
	opts := &github.PullRequestListOptions{
		State:       apiState,
		Sort:        "created",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: c.pageSize},
	}
	var out []schema.RawPullRequest
	for {
		prs, resp, err := c.gh.PullRequests.List(ctx, project, slug, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s pull requests for %s/%s: %w", state, project, slug, classify(resp, err))
		}
		for _, pr := range prs {
			raw := githubPullRequest(pr)
			if raw.State == state {
				out = append(out, raw)
			}
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// GetPullRequest implements contract.HostedClient.
func (c *GitHubClient) GetPullRequest(ctx context.Context, project, slug string, number int64) (schema.RawPullRequest, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, project, slug, int(number))
	if err != nil {
		return schema.RawPullRequest{}, fmt.Errorf("failed to get pull request %d: %w", number, classify(resp, err))
	}
	return githubPullRequest(pr), nil
}

// ListApprovals implements contract.HostedClient.
func (c *GitHubClient) ListApprovals(ctx context.Context, project, slug string, number int64) ([]schema.RawApproval, error) {
	opts := &github.ListOptions{PerPage: c.pageSize}
	seen := make(map[string]bool)
	var out []schema.RawApproval
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, project, slug, int(number), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews of pull request %d: %w", number, classify(resp, err))
		}
		for _, r := range reviews {
			if r.GetState() != "APPROVED" {
				continue
			}
			who := githubUser(r.User)
			if seen[who.Name] {
				continue
			}
			seen[who.Name] = true
			out = append(out, schema.RawApproval{Approver: who, ApprovedAt: r.GetSubmittedAt().UTC(), Kind: schema.ApprovedKind})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// CountCommits implements contract.HostedClient.
func (c *GitHubClient) CountCommits(ctx context.Context, project, slug string, number int64) (int64, error) {
	pr, resp, err := c.gh.PullRequests.Get(ctx, project, slug, int(number))
	if err != nil {
		return 0, fmt.Errorf("failed to count commits of pull request %d: %w", number, classify(resp, err))
	}
	return int64(pr.GetCommits()), nil
}
