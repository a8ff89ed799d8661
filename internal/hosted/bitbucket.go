package hosted

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
)

// BitbucketClient reads pull requests from a Bitbucket Server style REST API.
type BitbucketClient struct {
	client   *http.Client
	baseURL  string
	pageSize int
}

var _ contract.HostedClient = &BitbucketClient{} // Compile-time check

// NewBitbucketClient returns a client rooted at baseURL, e.g. https://git.example.com.
func NewBitbucketClient(httpClient *http.Client, baseURL string, pageSize int) *BitbucketClient {
	if pageSize <= 0 {
		pageSize = contract.DefaultPageSize
	}
	return &BitbucketClient{client: httpClient, baseURL: strings.TrimRight(baseURL, "/"), pageSize: pageSize}
}

type bbUser struct {
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

func (u bbUser) identity() schema.Identity {
	name := u.DisplayName
	if name == "" {
		name = u.Name
	}
	return schema.Identity{Name: name, Email: u.EmailAddress}
}

type bbRef struct {
	DisplayID string `json:"displayId"`
}

type bbPullRequest struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	State       string `json:"state"`
	CreatedDate int64  `json:"createdDate"`
	ClosedDate  int64  `json:"closedDate"`
	FromRef     bbRef  `json:"fromRef"`
	ToRef       bbRef  `json:"toRef"`
	Author      struct {
		User bbUser `json:"user"`
	} `json:"author"`
}

type bbActivity struct {
	Action      string `json:"action"`
	CreatedDate int64  `json:"createdDate"`
	User        bbUser `json:"user"`
}

type bbCommit struct {
	ID string `json:"id"`
}

type bbPage[T any] struct {
	Values        []T  `json:"values"`
	IsLastPage    bool `json:"isLastPage"`
	NextPageStart *int `json:"nextPageStart"`
}

type bbDiff struct {
	Diffs []struct {
		Hunks []struct {
			Segments []struct {
				Type  string            `json:"type"`
				Lines []json.RawMessage `json:"lines"`
			} `json:"segments"`
		} `json:"hunks"`
	} `json:"diffs"`
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (pr bbPullRequest) toRaw() schema.RawPullRequest {
	raw := schema.RawPullRequest{
		Number:       pr.ID,
		Title:        pr.Title,
		Description:  pr.Description,
		Author:       pr.Author.User.identity(),
		CreatedAt:    millis(pr.CreatedDate),
		State:        schema.PRState(strings.ToLower(pr.State)),
		SourceBranch: pr.FromRef.DisplayID,
		TargetBranch: pr.ToRef.DisplayID,
		Source:       schema.APISource,
	}
	if raw.State == schema.MergedState && pr.ClosedDate != 0 {
		merged := millis(pr.ClosedDate)
		raw.MergedAt = &merged
	}
	return raw
}

func (c *BitbucketClient) repoPath(project, slug string) string {
	return fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s", c.baseURL, url.PathEscape(project), url.PathEscape(slug))
}

func (c *BitbucketClient) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", req.URL.Path, err)
	}
	if err := statusError(resp, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// collectPages follows start/limit paging until a short page or isLastPage.
func collectPages[T any](ctx context.Context, c *BitbucketClient, endpoint string, query url.Values) ([]T, error) {
	if query == nil {
		query = url.Values{}
	}
	var out []T
	start := 0
	for {
		query.Set("start", strconv.Itoa(start))
		query.Set("limit", strconv.Itoa(c.pageSize))
		var page bbPage[T]
		if err := c.getJSON(ctx, endpoint, query, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Values...)
		if page.IsLastPage || len(page.Values) < c.pageSize {
			return out, nil
		}
		if page.NextPageStart != nil && *page.NextPageStart > start {
			start = *page.NextPageStart
		} else {
			start += len(page.Values)
		}
	}
}

// ListPullRequests implements contract.HostedClient.
func (c *BitbucketClient) ListPullRequests(ctx context.Context, project, slug string, state schema.PRState) ([]schema.RawPullRequest, error) {
	query := url.Values{"state": {strings.ToUpper(string(state))}, "order": {"OLDEST"}}
	prs, err := collectPages[bbPullRequest](ctx, c, c.repoPath(project, slug)+"/pull-requests", query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s pull requests for %s/%s: %w", state, project, slug, err)
	}
	out := make([]schema.RawPullRequest, 0, len(prs))
	for _, pr := range prs {
		out = append(out, pr.toRaw())
	}
	return out, nil
}

// GetPullRequest implements contract.HostedClient. Lines changed come from the diff endpoint.
func (c *BitbucketClient) GetPullRequest(ctx context.Context, project, slug string, number int64) (schema.RawPullRequest, error) {
	endpoint := fmt.Sprintf("%s/pull-requests/%d", c.repoPath(project, slug), number)
	var pr bbPullRequest
	if err := c.getJSON(ctx, endpoint, nil, &pr); err != nil {
		return schema.RawPullRequest{}, fmt.Errorf("failed to get pull request %d: %w", number, err)
	}
	raw := pr.toRaw()

	var diff bbDiff
	if err := c.getJSON(ctx, endpoint+"/diff", url.Values{"contextLines": {"0"}}, &diff); err != nil {
		return schema.RawPullRequest{}, fmt.Errorf("failed to get diff of pull request %d: %w", number, err)
	}
	for _, d := range diff.Diffs {
		for _, h := range d.Hunks {
			for _, seg := range h.Segments {
				if seg.Type == "ADDED" || seg.Type == "REMOVED" {
					raw.LinesChanged += int64(len(seg.Lines))
				}
			}
		}
	}
	return raw, nil
}

// ListApprovals implements contract.HostedClient. Each approver is reported once, at their first approval.
func (c *BitbucketClient) ListApprovals(ctx context.Context, project, slug string, number int64) ([]schema.RawApproval, error) {
	endpoint := fmt.Sprintf("%s/pull-requests/%d/activities", c.repoPath(project, slug), number)
	activities, err := collectPages[bbActivity](ctx, c, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities of pull request %d: %w", number, err)
	}
	seen := make(map[string]int)
	var out []schema.RawApproval
	for _, a := range activities {
		if a.Action != "APPROVED" {
			continue
		}
		who := a.User.identity()
		at := millis(a.CreatedDate)
		if i, ok := seen[who.Name]; ok {
			if at.Before(out[i].ApprovedAt) {
				out[i].ApprovedAt = at
			}
			continue
		}
		seen[who.Name] = len(out)
		out = append(out, schema.RawApproval{Approver: who, ApprovedAt: at, Kind: schema.ApprovedKind})
	}
	return out, nil
}

// CountCommits implements contract.HostedClient.
func (c *BitbucketClient) CountCommits(ctx context.Context, project, slug string, number int64) (int64, error) {
	endpoint := fmt.Sprintf("%s/pull-requests/%d/commits", c.repoPath(project, slug), number)
	commits, err := collectPages[bbCommit](ctx, c, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to list commits of pull request %d: %w", number, err)
	}
	return int64(len(commits)), nil
}
