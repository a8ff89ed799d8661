package outwriter

import (
	"fmt"
	"io"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/olekukonko/tablewriter/tw"
)

// textRenderer holds the table options shared by every text writer.
type textRenderer struct {
	colors       bool
	locatorWidth int
}

func (r *textRenderer) label(status schema.RunStatus) string {
	if r.colors {
		return contract.GetColorLabel(status)
	}
	return contract.GetPlainLabel(status)
}

func (r *textRenderer) extract(w io.Writer, s schema.ExtractSummary) error {
	rows := make([][]string, 0, len(s.Repositories))
	for _, repo := range s.Repositories {
		note := repo.Error
		if note == "" {
			note = repo.Degradation
		}
		rows = append(rows, []string{
			contract.TruncateText(repo.Locator, r.locatorWidth),
			r.label(repo.Status),
			string(repo.PRSource),
			fmt.Sprintf("%d/%d", repo.CommitsNew, repo.CommitsSeen),
			itoa(repo.PullRequestsNew),
			itoa(repo.ApprovalsNew),
			fmt.Sprintf("%d/%d", repo.MergesMatched, repo.MergesSeen),
			fmtPercent(repo.DetectionRate()),
			fmtDuration(repo.Duration),
			contract.TruncateText(note, 40),
		})
	}
	headers := []string{"Repository", "Status", "PRs From", "Commits", "PRs", "Approvals", "Merges", "Detected", "Took", "Note"}
	if err := renderTable(w, headers, rows, tw.AlignLeft); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Run %s: %d repositories, %d failed in %s\n",
		s.RunID, len(s.Repositories), len(s.Failed()), fmtDuration(s.Duration))
	return err
}

func (r *textRenderer) resolve(w io.Writer, s schema.ResolveSummary) error {
	if len(s.Matched) > 0 {
		rows := make([][]string, 0, len(s.Matched))
		for _, m := range s.Matched {
			changed := "no"
			if m.Changed {
				changed = "yes"
			}
			rows = append(rows, []string{m.AuthorName, m.Email, m.StaffID, string(m.Method), changed})
		}
		if err := renderTable(w, []string{"Author", "Email", "Staff", "Method", "Changed"}, rows, tw.AlignLeft); err != nil {
			return err
		}
	}
	if len(s.Unmatched) > 0 {
		if err := r.unmatched(w, s.Unmatched); err != nil {
			return err
		}
	}
	mode := "persisted"
	if s.DryRun {
		mode = "preview"
	}
	_, err := fmt.Fprintf(w, "Run %s (%s): %d candidates, %d matched, %d unmatched, %d written in %s\n",
		s.RunID, mode, s.Candidates, len(s.Matched), len(s.Unmatched), s.Written, fmtDuration(s.Duration))
	return err
}

func (r *textRenderer) unmatched(w io.Writer, authors []schema.UnmatchedAuthor) error {
	if len(authors) == 0 {
		_, err := fmt.Fprintln(w, "No unmatched authors.")
		return err
	}
	rows := make([][]string, 0, len(authors))
	for _, a := range authors {
		rows = append(rows, []string{a.Name, fmtAny(a.Email), itoa(a.Commits), a.Reason})
	}
	return renderTable(w, []string{"Author", "Email", "Commits", "Reason"}, rows, tw.AlignLeft)
}

func (r *textRenderer) mapping(w io.Writer, m schema.IdentityMapping) error {
	_, err := fmt.Fprintf(w, "Mapped %q to %s (%s, %s) at %s\n",
		m.AuthorName, m.StaffID, m.Method, fmtAny(m.Email), fmtTime(m.MappedAt))
	return err
}

func (r *textRenderer) aggregate(w io.Writer, s schema.AggregateSummary) error {
	rows := make([][]string, 0, len(s.Calculators))
	for _, c := range s.Calculators {
		note := c.Error
		if c.MissingDependency != "" {
			note = "missing " + c.MissingDependency
		}
		rows = append(rows, []string{
			string(c.Scope),
			r.label(c.Status),
			itoa(c.Keys),
			itoa(c.Recalculated),
			itoa(c.Unchanged),
			itoa(c.Deleted),
			fmtDuration(c.Duration),
			note,
		})
	}
	headers := []string{"Calculator", "Status", "Keys", "Written", "Unchanged", "Deleted", "Took", "Note"}
	if err := renderTable(w, headers, rows, tw.AlignLeft); err != nil {
		return err
	}
	mode := "incremental"
	if s.Force {
		mode = "forced"
	}
	_, err := fmt.Fprintf(w, "Run %s (%s): %d rows written in %s\n", s.RunID, mode, s.Recalculated(), fmtDuration(s.Duration))
	return err
}
