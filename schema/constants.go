// Package schema has the models, enums and rollup records shared by every orgpulse stage.
package schema

import "strings"

// Custom string types for type safety.
type (
	// OutputMode represents the format of the output.
	OutputMode string

	// DatabaseBackend represents the database backend for persisted state.
	DatabaseBackend string

	// MatchMethod represents how a raw author was linked to a staff record.
	MatchMethod string

	// PRState represents the lifecycle state of a pull request.
	PRState string

	// PRSource represents where a pull request record came from.
	PRSource string

	// StaffStatus represents the HR status of a staff record.
	StaffStatus string

	// Scope represents one granularity of the aggregation pipeline.
	Scope string

	// APIPlatform represents the hosted Git platform flavor.
	APIPlatform string

	// ApprovalKind represents the kind of approval recorded on a pull request.
	ApprovalKind string

	// RunKind represents the pipeline stage recorded in run bookkeeping.
	RunKind string

	// RunStatus represents the outcome of a unit of work.
	RunStatus string
)

// All output modes supported.
const (
	TextOut OutputMode = "text" // default
	JSONOut OutputMode = "json"
)

// All database backends supported.
const (
	SQLiteBackend     DatabaseBackend = "sqlite" // default
	MySQLBackend      DatabaseBackend = "mysql"
	PostgreSQLBackend DatabaseBackend = "postgresql"
)

// All identity match methods.
const (
	ExactEmailMethod     MatchMethod = "exact-email"
	UsernameDomainMethod MatchMethod = "username-domain"
	ManualMethod         MatchMethod = "manual"
)

// All pull request states.
const (
	OpenState     PRState = "open"
	MergedState   PRState = "merged"
	DeclinedState PRState = "declined"
)

// All pull request provenances.
const (
	APISource       PRSource = "api"
	HeuristicSource PRSource = "heuristic"
)

// All staff statuses. An empty status counts as active.
const (
	StaffActive   StaffStatus = "active"
	StaffInactive StaffStatus = "inactive"
	StaffOther    StaffStatus = "other"
)

// All aggregation scopes.
const (
	AllScope         Scope = "all"
	DailyScope       Scope = "daily"
	AuthorScope      Scope = "author"
	RepositoryScope  Scope = "repository"
	CommitTimeScope  Scope = "commit-time"
	PullRequestScope Scope = "pull-request"
	StaffScope       Scope = "staff"
	TeamScope        Scope = "team"
)

// All hosted platforms supported.
const (
	BitbucketPlatform APIPlatform = "bitbucket" // default
	GitHubPlatform    APIPlatform = "github"
)

// All approval kinds.
const (
	ApprovedKind ApprovalKind = "approved"
	TrailerKind  ApprovalKind = "trailer"
)

// All run kinds.
const (
	ExtractRun   RunKind = "extract"
	ResolveRun   RunKind = "resolve"
	AggregateRun RunKind = "aggregate"
)

// All run statuses.
const (
	StatusOK       RunStatus = "ok"
	StatusDegraded RunStatus = "degraded"
	StatusFailed   RunStatus = "failed"
	StatusSkipped  RunStatus = "skipped"
)

// ValidOutputModes lists all valid output modes.
var ValidOutputModes = map[OutputMode]struct{}{
	TextOut: {},
	JSONOut: {},
}

// ValidDatabaseBackends lists all valid database backends.
var ValidDatabaseBackends = map[DatabaseBackend]struct{}{
	SQLiteBackend:     {},
	MySQLBackend:      {},
	PostgreSQLBackend: {},
}

// ValidScopes lists all valid aggregation scopes.
var ValidScopes = map[Scope]struct{}{
	AllScope:         {},
	DailyScope:       {},
	AuthorScope:      {},
	RepositoryScope:  {},
	CommitTimeScope:  {},
	PullRequestScope: {},
	StaffScope:       {},
	TeamScope:        {},
}

// ValidAPIPlatforms lists all valid hosted platforms.
var ValidAPIPlatforms = map[APIPlatform]struct{}{
	BitbucketPlatform: {},
	GitHubPlatform:    {},
}

// ValidPRStates lists all valid pull request states.
var ValidPRStates = map[PRState]struct{}{
	OpenState:     {},
	MergedState:   {},
	DeclinedState: {},
}

// IsActive reports whether a staff status allows new mappings.
// A missing status is treated as active.
func (s StaffStatus) IsActive() bool {
	v := strings.TrimSpace(string(s))
	return v == "" || strings.EqualFold(v, string(StaffActive))
}
