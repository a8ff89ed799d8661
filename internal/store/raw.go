package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

var commitColumns = []string{
	"repository_id", "hash", "author_name", "author_email", "committer_name", "committer_email",
	"committed_at", "message", "lines_added", "lines_deleted", "chars_added", "chars_deleted",
	"files_changed", "extensions", "branch", "is_merge", "ingested_at",
}

var approvalColumns = []string{
	"pull_request_id", "approver_name", "approver_email", "approved_at", "kind", "ingested_at",
}

// EnsureRepository returns the repository row for repo.Locator, creating it on first sight.
func (s *SQLStore) EnsureRepository(ctx context.Context, repo schema.RawRepository) (schema.RawRepository, error) {
	found, ok, err := s.repositoryByLocator(ctx, repo.Locator)
	if err != nil || ok {
		return found, err
	}
	q := s.insertIgnoreSQL("repositories",
		[]string{"locator", "project_key", "slug", "created_at"}, []string{"locator"})
	if _, err := s.db.ExecContext(ctx, q, repo.Locator, repo.ProjectKey, repo.Slug, s.ts(s.now())); err != nil {
		return schema.RawRepository{}, fmt.Errorf("failed to insert repository %s: %w", repo.Locator, err)
	}
	found, ok, err = s.repositoryByLocator(ctx, repo.Locator)
	if err != nil {
		return found, err
	}
	if !ok {
		return found, fmt.Errorf("repository %s vanished after insert", repo.Locator)
	}
	return found, nil
}

func (s *SQLStore) repositoryByLocator(ctx context.Context, locator string) (schema.RawRepository, bool, error) {
	q := s.rebind("SELECT id, locator, project_key, slug, created_at, extracted_at FROM repositories WHERE locator = ?")
	repo, err := scanRepository(s.db.QueryRowContext(ctx, q, locator))
	if errors.Is(err, sql.ErrNoRows) {
		return schema.RawRepository{}, false, nil
	}
	if err != nil {
		return schema.RawRepository{}, false, fmt.Errorf("failed to load repository %s: %w", locator, err)
	}
	return repo, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (schema.RawRepository, error) {
	var repo schema.RawRepository
	var created, extracted dbTime
	if err := row.Scan(&repo.ID, &repo.Locator, &repo.ProjectKey, &repo.Slug, &created, &extracted); err != nil {
		return repo, err
	}
	repo.CreatedAt = created.Time
	repo.ExtractedAt = extracted.Time
	return repo, nil
}

// ListRepositories returns every known repository ordered by id.
func (s *SQLStore) ListRepositories(ctx context.Context) ([]schema.RawRepository, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, locator, project_key, slug, created_at, extracted_at FROM repositories ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawRepository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}

// MarkExtracted stamps the repository's last extraction time.
func (s *SQLStore) MarkExtracted(ctx context.Context, repositoryID int64, at time.Time) error {
	q := s.rebind("UPDATE repositories SET extracted_at = ? WHERE id = ?")
	_, err := s.db.ExecContext(ctx, q, s.ts(at), repositoryID)
	return err
}

// KnownCommits returns the hashes already stored for a repository.
func (s *SQLStore) KnownCommits(ctx context.Context, repositoryID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind("SELECT hash FROM commits WHERE repository_id = ?"), repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commit hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	known := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		known[h] = struct{}{}
	}
	return known, rows.Err()
}

// InsertCommits stores commits in one transaction. Hashes already present are skipped.
// It returns the number of rows actually created.
func (s *SQLStore) InsertCommits(ctx context.Context, commits []schema.RawCommit) (int, error) {
	if len(commits) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.insertIgnoreSQL("commits", commitColumns, []string{"repository_id", "hash"}))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare commit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	ingested := s.ts(s.now())
	created := 0
	for _, c := range commits {
		res, err := stmt.ExecContext(ctx,
			c.RepositoryID, c.Hash, c.Author.Name, c.Author.Email, c.Committer.Name, c.Committer.Email,
			s.ts(c.Timestamp), c.Message, c.LinesAdded, c.LinesDeleted, c.CharsAdded, c.CharsDeleted,
			c.FilesChanged, c.Extensions, c.Branch, c.IsMerge, ingested,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert commit %s: %w", c.Hash, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			created++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return created, nil
}

// SavePullRequest implements contract.RawStore.
// Authoritative rows replace heuristic rows with the same number, approvals included.
// Heuristic rows never overwrite and are not stored for a merge another row already records.
func (s *SQLStore) SavePullRequest(ctx context.Context, pr schema.RawPullRequest) (bool, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	var source string
	lookup := s.rebind("SELECT id, source FROM pull_requests WHERE repository_id = ? AND number = ?")
	err = tx.QueryRowContext(ctx, lookup, pr.RepositoryID, pr.Number).Scan(&id, &source)
	exists := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, 0, fmt.Errorf("failed to look up pull request %d: %w", pr.Number, err)
	}
	if pr.Source == schema.HeuristicSource {
		if exists {
			return false, 0, tx.Commit()
		}
		covered, err := s.mergeCovered(ctx, tx, pr.RepositoryID, pr.MergeHash)
		if err != nil || covered {
			return false, 0, err
		}
	}
	if exists && source == string(schema.HeuristicSource) && pr.Source != schema.HeuristicSource {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM approvals WHERE pull_request_id = ?"), id); err != nil {
			return false, 0, fmt.Errorf("failed to clear approvals of pull request %d: %w", pr.Number, err)
		}
	}

	ingested := s.now()
	values := []any{
		pr.Title, pr.Description, pr.Author.Name, pr.Author.Email, s.ts(pr.CreatedAt), s.nullTS(pr.MergedAt),
		string(pr.State), pr.SourceBranch, pr.TargetBranch, pr.CommitCount, pr.LinesChanged,
		string(pr.Source), pr.MergeHash, s.ts(ingested),
	}
	if exists {
		q := s.rebind(`UPDATE pull_requests SET title = ?, description = ?, author_name = ?, author_email = ?,
			created_at = ?, merged_at = ?, state = ?, source_branch = ?, target_branch = ?, commit_count = ?,
			lines_changed = ?, source = ?, merge_hash = ?, ingested_at = ? WHERE id = ?`)
		if _, err := tx.ExecContext(ctx, q, append(values, id)...); err != nil {
			return false, 0, fmt.Errorf("failed to update pull request %d: %w", pr.Number, err)
		}
	} else {
		q := s.rebind(`INSERT INTO pull_requests (repository_id, number, title, description, author_name, author_email,
			created_at, merged_at, state, source_branch, target_branch, commit_count, lines_changed, source, merge_hash, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, q, append([]any{pr.RepositoryID, pr.Number}, values...)...); err != nil {
			return false, 0, fmt.Errorf("failed to insert pull request %d: %w", pr.Number, err)
		}
		if err := tx.QueryRowContext(ctx, lookup, pr.RepositoryID, pr.Number).Scan(&id, &source); err != nil {
			return false, 0, fmt.Errorf("failed to read back pull request %d: %w", pr.Number, err)
		}
	}

	approvals := 0
	if len(pr.Approvals) > 0 {
		stmt, err := tx.PrepareContext(ctx, s.insertIgnoreSQL("approvals", approvalColumns, []string{"pull_request_id", "approver_name"}))
		if err != nil {
			return false, 0, fmt.Errorf("failed to prepare approval insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, a := range pr.Approvals {
			res, err := stmt.ExecContext(ctx, id, a.Approver.Name, a.Approver.Email, s.ts(a.ApprovedAt), string(a.Kind), s.ts(ingested))
			if err != nil {
				return false, 0, fmt.Errorf("failed to insert approval by %s: %w", a.Approver.Name, err)
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				approvals++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return !exists, approvals, nil
}

// mergeCovered reports whether some pull request of the repository already records mergeHash.
func (s *SQLStore) mergeCovered(ctx context.Context, tx *sql.Tx, repositoryID int64, mergeHash string) (bool, error) {
	if mergeHash == "" {
		return false, nil
	}
	var n int64
	q := s.rebind("SELECT COUNT(*) FROM pull_requests WHERE repository_id = ? AND merge_hash = ?")
	if err := tx.QueryRowContext(ctx, q, repositoryID, mergeHash).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up merge %s: %w", mergeHash, err)
	}
	return n > 0, nil
}

// KnownPullRequests returns the number, source and merge hash of every pull request stored for a repository.
func (s *SQLStore) KnownPullRequests(ctx context.Context, repositoryID int64) ([]schema.RawPullRequest, error) {
	q := s.rebind("SELECT number, source, merge_hash FROM pull_requests WHERE repository_id = ?")
	rows, err := s.db.QueryContext(ctx, q, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull request numbers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawPullRequest
	for rows.Next() {
		pr := schema.RawPullRequest{RepositoryID: repositoryID}
		var source string
		if err := rows.Scan(&pr.Number, &source, &pr.MergeHash); err != nil {
			return nil, err
		}
		pr.Source = schema.PRSource(source)
		out = append(out, pr)
	}
	return out, rows.Err()
}

// DeleteHeuristicPullRequests removes a repository's heuristic pull requests and their approvals.
// It returns the number of pull requests removed.
func (s *SQLStore) DeleteHeuristicPullRequests(ctx context.Context, repositoryID int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	heuristic := string(schema.HeuristicSource)
	q := s.rebind(`DELETE FROM approvals WHERE pull_request_id IN
		(SELECT id FROM pull_requests WHERE repository_id = ? AND source = ?)`)
	if _, err := tx.ExecContext(ctx, q, repositoryID, heuristic); err != nil {
		return 0, fmt.Errorf("failed to delete heuristic approvals: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM pull_requests WHERE repository_id = ? AND source = ?"), repositoryID, heuristic)
	if err != nil {
		return 0, fmt.Errorf("failed to delete heuristic pull requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(n), nil
}

// ListCommitStats implements contract.SourceStore.
func (s *SQLStore) ListCommitStats(ctx context.Context) ([]schema.RawCommit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT repository_id, hash, author_name, author_email, committer_name, committer_email,
		committed_at, lines_added, lines_deleted, chars_added, chars_deleted, files_changed, extensions, branch, is_merge, ingested_at
		FROM commits`)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawCommit
	for rows.Next() {
		var c schema.RawCommit
		var committed, ingested dbTime
		if err := rows.Scan(&c.RepositoryID, &c.Hash, &c.Author.Name, &c.Author.Email, &c.Committer.Name, &c.Committer.Email,
			&committed, &c.LinesAdded, &c.LinesDeleted, &c.CharsAdded, &c.CharsDeleted, &c.FilesChanged,
			&c.Extensions, &c.Branch, &c.IsMerge, &ingested); err != nil {
			return nil, err
		}
		c.Timestamp = committed.Time
		c.IngestedAt = ingested.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListPullRequests implements contract.SourceStore.
func (s *SQLStore) ListPullRequests(ctx context.Context) ([]schema.RawPullRequest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, repository_id, number, title, description, author_name, author_email,
		created_at, merged_at, state, source_branch, target_branch, commit_count, lines_changed, source, merge_hash, ingested_at
		FROM pull_requests ORDER BY repository_id, number`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawPullRequest
	for rows.Next() {
		var pr schema.RawPullRequest
		var created, merged, ingested dbTime
		var state, source string
		if err := rows.Scan(&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Description, &pr.Author.Name, &pr.Author.Email,
			&created, &merged, &state, &pr.SourceBranch, &pr.TargetBranch, &pr.CommitCount, &pr.LinesChanged,
			&source, &pr.MergeHash, &ingested); err != nil {
			return nil, err
		}
		pr.CreatedAt = created.Time
		pr.MergedAt = merged.Ptr()
		pr.State = schema.PRState(state)
		pr.Source = schema.PRSource(source)
		pr.IngestedAt = ingested.Time
		out = append(out, pr)
	}
	return out, rows.Err()
}

// ListApprovals implements contract.SourceStore.
func (s *SQLStore) ListApprovals(ctx context.Context) ([]schema.RawApproval, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a.pull_request_id, p.repository_id, a.approver_name, a.approver_email,
		a.approved_at, a.kind, a.ingested_at
		FROM approvals a JOIN pull_requests p ON p.id = a.pull_request_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []schema.RawApproval
	for rows.Next() {
		var a schema.RawApproval
		var approved, ingested dbTime
		var kind string
		if err := rows.Scan(&a.PullRequestID, &a.RepositoryID, &a.Approver.Name, &a.Approver.Email, &approved, &kind, &ingested); err != nil {
			return nil, err
		}
		a.ApprovedAt = approved.Time
		a.Kind = schema.ApprovalKind(kind)
		a.IngestedAt = ingested.Time
		out = append(out, a)
	}
	return out, rows.Err()
}
