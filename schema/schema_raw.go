package schema

import "time"

// RawRepository represents a row from the repositories table.
type RawRepository struct {
	ID          int64     `json:"id"`
	ProjectKey  string    `json:"project_key"`
	Slug        string    `json:"slug"`
	Locator     string    `json:"locator"`
	CreatedAt   time.Time `json:"created_at"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Identity is a name and email pair as recorded by git or a hosted platform.
type Identity struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RawCommit represents a row from the commits table.
type RawCommit struct {
	RepositoryID int64     `json:"repository_id"`
	Hash         string    `json:"hash"`
	Author       Identity  `json:"author"`
	Committer    Identity  `json:"committer"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message,omitempty"`
	LinesAdded   int64     `json:"lines_added"`
	LinesDeleted int64     `json:"lines_deleted"`
	CharsAdded   int64     `json:"chars_added"`
	CharsDeleted int64     `json:"chars_deleted"`
	FilesChanged int64     `json:"files_changed"`
	Extensions   string    `json:"extensions"` // comma-joined, sorted
	Branch       string    `json:"branch"`
	IsMerge      bool      `json:"is_merge"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// RawPullRequest represents a row from the pull_requests table.
type RawPullRequest struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository_id"`
	Number       int64      `json:"number"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Author       Identity   `json:"author"`
	CreatedAt    time.Time  `json:"created_at"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	State        PRState    `json:"state"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	CommitCount  int64      `json:"commit_count"`
	LinesChanged int64      `json:"lines_changed"`
	Source       PRSource   `json:"source"`
	MergeHash    string     `json:"merge_hash,omitempty"`
	IngestedAt   time.Time  `json:"ingested_at"`

	Approvals []RawApproval `json:"approvals,omitempty"`
}

// RawApproval represents a row from the approvals table.
type RawApproval struct {
	PullRequestID int64        `json:"pull_request_id"`
	Approver      Identity     `json:"approver"`
	ApprovedAt    time.Time    `json:"approved_at"`
	Kind          ApprovalKind `json:"kind"`
	IngestedAt    time.Time    `json:"ingested_at"`

	// Populated on reads that join the owning pull request.
	RepositoryID int64 `json:"repository_id,omitempty"`
}
