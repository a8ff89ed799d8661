package schema

import "time"

// RollupRecord is one materialized row of a rollup table.
// Keys identify the row; values are the counters and ratios rewritten on upsert.
type RollupRecord interface {
	Scope() Scope
	Table() string
	KeyColumns() []string
	KeyValues() []any
	ValueColumns() []string
	Values() []any
	// ScanTargets returns pointers for keys followed by values, in column order.
	ScanTargets() []any
	Calculated() time.Time
	SetCalculated(at time.Time)
}

// Calculation carries the bookkeeping timestamp shared by every rollup row.
type Calculation struct {
	LastCalculated time.Time `json:"last_calculated"`
}

// Calculated returns when the row was last written.
func (c *Calculation) Calculated() time.Time { return c.LastCalculated }

// SetCalculated stamps the row.
func (c *Calculation) SetCalculated(at time.Time) { c.LastCalculated = at }

// Shared counter columns for commit-based rollups.
var commitColumns = []string{
	"commits", "merge_commits", "lines_added", "lines_deleted",
	"chars_added", "chars_deleted", "files_changed", "avg_lines_per_commit",
}

// CommitCounters are the additive commit totals plus their derived ratio.
type CommitCounters struct {
	Commits           int64   `json:"commits"`
	MergeCommits      int64   `json:"merge_commits"`
	LinesAdded        int64   `json:"lines_added"`
	LinesDeleted      int64   `json:"lines_deleted"`
	CharsAdded        int64   `json:"chars_added"`
	CharsDeleted      int64   `json:"chars_deleted"`
	FilesChanged      int64   `json:"files_changed"`
	AvgLinesPerCommit float64 `json:"avg_lines_per_commit"`
}

func (c *CommitCounters) values() []any {
	return []any{c.Commits, c.MergeCommits, c.LinesAdded, c.LinesDeleted, c.CharsAdded, c.CharsDeleted, c.FilesChanged, c.AvgLinesPerCommit}
}

func (c *CommitCounters) targets() []any {
	return []any{&c.Commits, &c.MergeCommits, &c.LinesAdded, &c.LinesDeleted, &c.CharsAdded, &c.CharsDeleted, &c.FilesChanged, &c.AvgLinesPerCommit}
}

func withCommitColumns(extra ...string) []string {
	out := make([]string, 0, len(commitColumns)+len(extra))
	out = append(out, commitColumns...)
	return append(out, extra...)
}

// DailyRollup is keyed by (day, author, repository).
type DailyRollup struct {
	Day          string `json:"day"` // YYYY-MM-DD, UTC
	AuthorName   string `json:"author_name"`
	RepositoryID int64  `json:"repository_id"`
	CommitCounters
	Calculation
}

var _ RollupRecord = &DailyRollup{} // Compile-time check

func (r *DailyRollup) Scope() Scope           { return DailyScope }
func (r *DailyRollup) Table() string          { return "rollup_daily" }
func (r *DailyRollup) KeyColumns() []string   { return []string{"day", "author_name", "repository_id"} }
func (r *DailyRollup) KeyValues() []any       { return []any{r.Day, r.AuthorName, r.RepositoryID} }
func (r *DailyRollup) ValueColumns() []string { return withCommitColumns() }
func (r *DailyRollup) Values() []any          { return r.values() }
func (r *DailyRollup) ScanTargets() []any {
	return append([]any{&r.Day, &r.AuthorName, &r.RepositoryID}, r.targets()...)
}

// AuthorRollup is keyed by raw author name.
type AuthorRollup struct {
	AuthorName string `json:"author_name"`
	CommitCounters
	Repositories   int64  `json:"repositories"`
	ActiveDays     int64  `json:"active_days"`
	PRsAuthored    int64  `json:"prs_authored"`
	PRsMerged      int64  `json:"prs_merged"`
	ApprovalsGiven int64  `json:"approvals_given"`
	FirstCommitDay string `json:"first_commit_day"`
	LastCommitDay  string `json:"last_commit_day"`
	Calculation
}

var _ RollupRecord = &AuthorRollup{} // Compile-time check

func (r *AuthorRollup) Scope() Scope         { return AuthorScope }
func (r *AuthorRollup) Table() string        { return "rollup_author" }
func (r *AuthorRollup) KeyColumns() []string { return []string{"author_name"} }
func (r *AuthorRollup) KeyValues() []any     { return []any{r.AuthorName} }
func (r *AuthorRollup) ValueColumns() []string {
	return withCommitColumns("repositories", "active_days", "prs_authored", "prs_merged", "approvals_given", "first_commit_day", "last_commit_day")
}
func (r *AuthorRollup) Values() []any {
	return append(r.values(), r.Repositories, r.ActiveDays, r.PRsAuthored, r.PRsMerged, r.ApprovalsGiven, r.FirstCommitDay, r.LastCommitDay)
}
func (r *AuthorRollup) ScanTargets() []any {
	out := append([]any{&r.AuthorName}, r.targets()...)
	return append(out, &r.Repositories, &r.ActiveDays, &r.PRsAuthored, &r.PRsMerged, &r.ApprovalsGiven, &r.FirstCommitDay, &r.LastCommitDay)
}

// RepositoryRollup is keyed by repository.
type RepositoryRollup struct {
	RepositoryID int64  `json:"repository_id"`
	ProjectKey   string `json:"project_key"`
	Slug         string `json:"slug"`
	CommitCounters
	Authors        int64  `json:"authors"`
	PRsOpen        int64  `json:"prs_open"`
	PRsMerged      int64  `json:"prs_merged"`
	PRsDeclined    int64  `json:"prs_declined"`
	Approvals      int64  `json:"approvals"`
	FirstCommitDay string `json:"first_commit_day"`
	LastCommitDay  string `json:"last_commit_day"`
	Calculation
}

var _ RollupRecord = &RepositoryRollup{} // Compile-time check

func (r *RepositoryRollup) Scope() Scope         { return RepositoryScope }
func (r *RepositoryRollup) Table() string        { return "rollup_repository" }
func (r *RepositoryRollup) KeyColumns() []string { return []string{"repository_id"} }
func (r *RepositoryRollup) KeyValues() []any     { return []any{r.RepositoryID} }
func (r *RepositoryRollup) ValueColumns() []string {
	return append([]string{"project_key", "slug"}, withCommitColumns("authors", "prs_open", "prs_merged", "prs_declined", "approvals", "first_commit_day", "last_commit_day")...)
}
func (r *RepositoryRollup) Values() []any {
	out := append([]any{r.ProjectKey, r.Slug}, r.values()...)
	return append(out, r.Authors, r.PRsOpen, r.PRsMerged, r.PRsDeclined, r.Approvals, r.FirstCommitDay, r.LastCommitDay)
}
func (r *RepositoryRollup) ScanTargets() []any {
	out := append([]any{&r.RepositoryID, &r.ProjectKey, &r.Slug}, r.targets()...)
	return append(out, &r.Authors, &r.PRsOpen, &r.PRsMerged, &r.PRsDeclined, &r.Approvals, &r.FirstCommitDay, &r.LastCommitDay)
}

// CommitTimeRollup buckets an author's commits by UTC weekday (0=Sunday) and hour.
type CommitTimeRollup struct {
	AuthorName   string `json:"author_name"`
	Weekday      int64  `json:"weekday"`
	Hour         int64  `json:"hour"`
	Commits      int64  `json:"commits"`
	LinesAdded   int64  `json:"lines_added"`
	LinesDeleted int64  `json:"lines_deleted"`
	Calculation
}

var _ RollupRecord = &CommitTimeRollup{} // Compile-time check

func (r *CommitTimeRollup) Scope() Scope         { return CommitTimeScope }
func (r *CommitTimeRollup) Table() string        { return "rollup_commit_time" }
func (r *CommitTimeRollup) KeyColumns() []string { return []string{"author_name", "weekday", "hour"} }
func (r *CommitTimeRollup) KeyValues() []any     { return []any{r.AuthorName, r.Weekday, r.Hour} }
func (r *CommitTimeRollup) ValueColumns() []string {
	return []string{"commits", "lines_added", "lines_deleted"}
}
func (r *CommitTimeRollup) Values() []any { return []any{r.Commits, r.LinesAdded, r.LinesDeleted} }
func (r *CommitTimeRollup) ScanTargets() []any {
	return []any{&r.AuthorName, &r.Weekday, &r.Hour, &r.Commits, &r.LinesAdded, &r.LinesDeleted}
}

// PullRequestRollup is keyed by (pull request author, repository).
type PullRequestRollup struct {
	AuthorName        string  `json:"author_name"`
	RepositoryID      int64   `json:"repository_id"`
	PRsOpen           int64   `json:"prs_open"`
	PRsMerged         int64   `json:"prs_merged"`
	PRsDeclined       int64   `json:"prs_declined"`
	PRsHeuristic      int64   `json:"prs_heuristic"`
	PRCommits         int64   `json:"pr_commits"`
	LinesChanged      int64   `json:"lines_changed"`
	ApprovalsReceived int64   `json:"approvals_received"`
	AvgMergeHours     float64 `json:"avg_merge_hours"`
	AvgLinesPerPR     float64 `json:"avg_lines_per_pr"`
	Calculation
}

var _ RollupRecord = &PullRequestRollup{} // Compile-time check

func (r *PullRequestRollup) Scope() Scope         { return PullRequestScope }
func (r *PullRequestRollup) Table() string        { return "rollup_pr_author" }
func (r *PullRequestRollup) KeyColumns() []string { return []string{"author_name", "repository_id"} }
func (r *PullRequestRollup) KeyValues() []any     { return []any{r.AuthorName, r.RepositoryID} }
func (r *PullRequestRollup) ValueColumns() []string {
	return []string{"prs_open", "prs_merged", "prs_declined", "prs_heuristic", "pr_commits", "lines_changed", "approvals_received", "avg_merge_hours", "avg_lines_per_pr"}
}
func (r *PullRequestRollup) Values() []any {
	return []any{r.PRsOpen, r.PRsMerged, r.PRsDeclined, r.PRsHeuristic, r.PRCommits, r.LinesChanged, r.ApprovalsReceived, r.AvgMergeHours, r.AvgLinesPerPR}
}
func (r *PullRequestRollup) ScanTargets() []any {
	return []any{&r.AuthorName, &r.RepositoryID, &r.PRsOpen, &r.PRsMerged, &r.PRsDeclined, &r.PRsHeuristic, &r.PRCommits, &r.LinesChanged, &r.ApprovalsReceived, &r.AvgMergeHours, &r.AvgLinesPerPR}
}

// StaffRollup is keyed by staff identifier and sums every raw author mapped to it.
type StaffRollup struct {
	StaffID    string `json:"staff_id"`
	StaffName  string `json:"staff_name"`
	Unit       string `json:"unit"`
	Identities int64  `json:"identities"`
	CommitCounters
	Repositories   int64  `json:"repositories"`
	ActiveDays     int64  `json:"active_days"`
	PRsAuthored    int64  `json:"prs_authored"`
	PRsMerged      int64  `json:"prs_merged"`
	ApprovalsGiven int64  `json:"approvals_given"`
	FirstCommitDay string `json:"first_commit_day"`
	LastCommitDay  string `json:"last_commit_day"`
	Calculation
}

var _ RollupRecord = &StaffRollup{} // Compile-time check

func (r *StaffRollup) Scope() Scope         { return StaffScope }
func (r *StaffRollup) Table() string        { return "rollup_staff" }
func (r *StaffRollup) KeyColumns() []string { return []string{"staff_id"} }
func (r *StaffRollup) KeyValues() []any     { return []any{r.StaffID} }
func (r *StaffRollup) ValueColumns() []string {
	return append([]string{"staff_name", "unit", "identities"}, withCommitColumns("repositories", "active_days", "prs_authored", "prs_merged", "approvals_given", "first_commit_day", "last_commit_day")...)
}
func (r *StaffRollup) Values() []any {
	out := append([]any{r.StaffName, r.Unit, r.Identities}, r.values()...)
	return append(out, r.Repositories, r.ActiveDays, r.PRsAuthored, r.PRsMerged, r.ApprovalsGiven, r.FirstCommitDay, r.LastCommitDay)
}
func (r *StaffRollup) ScanTargets() []any {
	out := append([]any{&r.StaffID, &r.StaffName, &r.Unit, &r.Identities}, r.targets()...)
	return append(out, &r.Repositories, &r.ActiveDays, &r.PRsAuthored, &r.PRsMerged, &r.ApprovalsGiven, &r.FirstCommitDay, &r.LastCommitDay)
}

// TeamRollup is keyed by organizational unit.
type TeamRollup struct {
	Unit         string `json:"unit"`
	Members      int64  `json:"members"`
	Contributors int64  `json:"contributors"`
	CommitCounters
	PRsAuthored              int64   `json:"prs_authored"`
	PRsMerged                int64   `json:"prs_merged"`
	ApprovalsGiven           int64   `json:"approvals_given"`
	AvgCommitsPerContributor float64 `json:"avg_commits_per_contributor"`
	Calculation
}

var _ RollupRecord = &TeamRollup{} // Compile-time check

func (r *TeamRollup) Scope() Scope         { return TeamScope }
func (r *TeamRollup) Table() string        { return "rollup_team" }
func (r *TeamRollup) KeyColumns() []string { return []string{"unit"} }
func (r *TeamRollup) KeyValues() []any     { return []any{r.Unit} }
func (r *TeamRollup) ValueColumns() []string {
	return append([]string{"members", "contributors"}, withCommitColumns("prs_authored", "prs_merged", "approvals_given", "avg_commits_per_contributor")...)
}
func (r *TeamRollup) Values() []any {
	out := append([]any{r.Members, r.Contributors}, r.values()...)
	return append(out, r.PRsAuthored, r.PRsMerged, r.ApprovalsGiven, r.AvgCommitsPerContributor)
}
func (r *TeamRollup) ScanTargets() []any {
	out := append([]any{&r.Unit, &r.Members, &r.Contributors}, r.targets()...)
	return append(out, &r.PRsAuthored, &r.PRsMerged, &r.ApprovalsGiven, &r.AvgCommitsPerContributor)
}

// NewRollup returns an empty record for the scope, or nil for AllScope and unknown scopes.
func NewRollup(scope Scope) RollupRecord {
	switch scope {
	case DailyScope:
		return &DailyRollup{}
	case AuthorScope:
		return &AuthorRollup{}
	case RepositoryScope:
		return &RepositoryRollup{}
	case CommitTimeScope:
		return &CommitTimeRollup{}
	case PullRequestScope:
		return &PullRequestRollup{}
	case StaffScope:
		return &StaffRollup{}
	case TeamScope:
		return &TeamRollup{}
	}
	return nil
}

// RollupScopes lists every concrete rollup scope in table order.
var RollupScopes = []Scope{DailyScope, AuthorScope, RepositoryScope, CommitTimeScope, PullRequestScope, StaffScope, TeamScope}
