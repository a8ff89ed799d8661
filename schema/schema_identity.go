package schema

import "time"

// StaffRecord represents a row from the externally maintained staff table.
type StaffRecord struct {
	StaffID   string      `json:"staff_id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Status    StaffStatus `json:"status"`
	Unit      string      `json:"unit"`
	Rank      string      `json:"rank"`
	Manager   string      `json:"manager"`
	Location  string      `json:"location"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// IdentityMapping links a raw author name to a staff record.
type IdentityMapping struct {
	AuthorName string      `json:"author_name"`
	StaffID    string      `json:"staff_id"`
	Email      string      `json:"email"`
	Method     MatchMethod `json:"method"`
	MappedAt   time.Time   `json:"mapped_at"`
}

// RawAuthor is one (name, email) pair seen in commits with its commit count.
type RawAuthor struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Commits int64  `json:"commits"`
}

// UnmatchedAuthor is reported back to operators for manual review.
type UnmatchedAuthor struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Commits int64  `json:"commits"`
	Reason  string `json:"reason"`
}
