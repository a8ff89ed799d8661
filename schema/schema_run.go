package schema

import "time"

// RepositoryResult summarizes one repository of an extraction batch.
type RepositoryResult struct {
	Locator              string         `json:"locator"`
	RepositoryID         int64          `json:"repository_id,omitempty"`
	Status               RunStatus      `json:"status"`
	Error                string         `json:"error,omitempty"`
	Degradation          string         `json:"degradation,omitempty"`
	PRSource             PRSource       `json:"pr_source,omitempty"`
	CommitsSeen          int            `json:"commits_seen"`
	CommitsNew           int            `json:"commits_new"`
	CommitsSkipped       int            `json:"commits_skipped"`
	PullRequestsNew      int            `json:"pull_requests_new"`
	PullRequestsReplaced int            `json:"pull_requests_replaced,omitempty"` // heuristic rows dropped for authoritative ones
	ApprovalsNew         int            `json:"approvals_new"`
	MergesSeen           int            `json:"merges_seen"`
	MergesMatched        int            `json:"merges_matched"`
	MatchesByPattern     map[string]int `json:"matches_by_pattern,omitempty"`
	Duration             time.Duration  `json:"duration"`
}

// DetectionRate returns the share of merge commits that produced a heuristic pull request.
func (r RepositoryResult) DetectionRate() float64 {
	if r.MergesSeen == 0 {
		return 0
	}
	return float64(r.MergesMatched) / float64(r.MergesSeen)
}

// ExtractSummary is the outcome of one extraction batch.
type ExtractSummary struct {
	RunID        string             `json:"run_id"`
	Repositories []RepositoryResult `json:"repositories"`
	Duration     time.Duration      `json:"duration"`
}

// Failed returns the repositories that could not be extracted.
func (s ExtractSummary) Failed() []RepositoryResult {
	var out []RepositoryResult
	for _, r := range s.Repositories {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Match is one resolved author.
type Match struct {
	AuthorName string      `json:"author_name"`
	Email      string      `json:"email"`
	StaffID    string      `json:"staff_id"`
	Method     MatchMethod `json:"method"`
	Changed    bool        `json:"changed"`
}

// ResolveSummary is the outcome of one identity resolution pass.
type ResolveSummary struct {
	RunID      string            `json:"run_id"`
	DryRun     bool              `json:"dry_run"`
	Candidates int               `json:"candidates"`
	Matched    []Match           `json:"matched"`
	Unmatched  []UnmatchedAuthor `json:"unmatched"`
	Written    int               `json:"written"`
	Duration   time.Duration     `json:"duration"`
}

// CalculatorResult summarizes one calculator of an aggregation pass.
type CalculatorResult struct {
	Scope             Scope         `json:"scope"`
	Status            RunStatus     `json:"status"`
	Error             string        `json:"error,omitempty"`
	MissingDependency string        `json:"missing_dependency,omitempty"`
	Keys              int           `json:"keys"`
	Recalculated      int           `json:"recalculated"`
	Unchanged         int           `json:"unchanged"`
	Deleted           int           `json:"deleted"`
	Duration          time.Duration `json:"duration"`
}

// AggregateSummary is the outcome of one aggregation pass.
type AggregateSummary struct {
	RunID       string             `json:"run_id"`
	Force       bool               `json:"force"`
	Calculators []CalculatorResult `json:"calculators"`
	Duration    time.Duration      `json:"duration"`
}

// Recalculated returns the total rows written across calculators.
func (s AggregateSummary) Recalculated() int {
	total := 0
	for _, c := range s.Calculators {
		total += c.Recalculated
	}
	return total
}

// Result returns the calculator result for a scope.
func (s AggregateSummary) Result(scope Scope) (CalculatorResult, bool) {
	for _, c := range s.Calculators {
		if c.Scope == scope {
			return c, true
		}
	}
	return CalculatorResult{}, false
}
