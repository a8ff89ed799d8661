// Package identity links raw commit authors to staff records.
package identity

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
)

// Manual mapping rejections.
var (
	ErrUnknownStaff  = errors.New("unknown staff id")
	ErrInactiveStaff = errors.New("staff record is not active")
)

// Reasons reported for unmatched authors.
const (
	ReasonNoEmail     = "no-email"
	ReasonNoMatch     = "no-match"
	ReasonAmbiguous   = "ambiguous"
	ReasonWriteFailed = "write-failed"
)

// Options controls one resolution pass.
type Options struct {
	Domains []string // recognized organizational email domains; empty disables username-domain matching
	DryRun  bool
	Rematch bool // re-evaluate existing non-manual mappings
}

// OptionsFromConfig derives resolution options from validated configuration.
func OptionsFromConfig(cfg *contract.Config) Options {
	return Options{
		Domains: cfg.Identity.Domains,
		DryRun:  cfg.Identity.DryRun,
		Rematch: cfg.Identity.Rematch,
	}
}

// Resolver matches raw authors against the staff table.
type Resolver struct {
	store contract.IdentityStore
	log   logrus.FieldLogger
	now   func() time.Time
}

// New returns a Resolver.
func New(store contract.IdentityStore, log logrus.FieldLogger) *Resolver {
	return &Resolver{store: store, log: log, now: time.Now}
}

// WithClock replaces the clock used for mapping timestamps.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// author is every email a raw author name was seen with, most used first.
type author struct {
	name    string
	emails  []string
	commits int64
}

// groupAuthors folds (name, email) rows into one entry per name.
func groupAuthors(rows []schema.RawAuthor) []author {
	byName := make(map[string]*author)
	counts := make(map[string]map[string]int64)
	for _, row := range rows {
		a, ok := byName[row.Name]
		if !ok {
			a = &author{name: row.Name}
			byName[row.Name] = a
			counts[row.Name] = make(map[string]int64)
		}
		a.commits += row.Commits
		email := strings.TrimSpace(row.Email)
		if email == "" {
			continue
		}
		if _, seen := counts[row.Name][email]; !seen {
			a.emails = append(a.emails, email)
		}
		counts[row.Name][email] += row.Commits
	}

	out := make([]author, 0, len(byName))
	for _, a := range byName {
		c := counts[a.name]
		slices.SortFunc(a.emails, func(x, y string) int {
			if n := cmp.Compare(c[y], c[x]); n != 0 {
				return n
			}
			return cmp.Compare(x, y)
		})
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y author) int { return cmp.Compare(x.name, y.name) })
	return out
}

// splitEmail returns the lowercase local part and domain.
func splitEmail(email string) (local, domain string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(email))
	i := strings.LastIndex(email, "@")
	if i <= 0 || i == len(email)-1 {
		return "", "", false
	}
	return email[:i], email[i+1:], true
}

// staffIndex holds active staff keyed for both strategies.
type staffIndex struct {
	byEmail map[string][]schema.StaffRecord
	byLocal map[string][]schema.StaffRecord // only staff whose domain is recognized
}

func newStaffIndex(staff []schema.StaffRecord, domains []string) staffIndex {
	recognized := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		recognized[strings.ToLower(d)] = struct{}{}
	}
	idx := staffIndex{byEmail: map[string][]schema.StaffRecord{}, byLocal: map[string][]schema.StaffRecord{}}
	for _, s := range staff {
		if !s.Status.IsActive() {
			continue
		}
		email := strings.ToLower(strings.TrimSpace(s.Email))
		if email == "" {
			continue
		}
		idx.byEmail[email] = append(idx.byEmail[email], s)
		if local, domain, ok := splitEmail(email); ok {
			if _, ok := recognized[domain]; ok {
				idx.byLocal[local] = append(idx.byLocal[local], s)
			}
		}
	}
	return idx
}

// outcome is the result of running the strategies for one author.
type outcome struct {
	staff     schema.StaffRecord
	email     string
	method    schema.MatchMethod
	ambiguous bool
	matched   bool
}

// uniqueStaff drops duplicate staff ids.
func uniqueStaff(in []schema.StaffRecord) []schema.StaffRecord {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s.StaffID]; ok {
			continue
		}
		seen[s.StaffID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// strategy looks up candidates for one email.
type strategy struct {
	method schema.MatchMethod
	lookup func(email string) []schema.StaffRecord
}

// match runs the strategies in order. The first strategy with a unique candidate wins;
// a strategy with several candidates for an email ends the search as ambiguous.
func (idx staffIndex) match(a author, withDomains bool) outcome {
	strategies := []strategy{{
		method: schema.ExactEmailMethod,
		lookup: func(email string) []schema.StaffRecord { return idx.byEmail[strings.ToLower(email)] },
	}}
	if withDomains {
		strategies = append(strategies, strategy{
			method: schema.UsernameDomainMethod,
			lookup: func(email string) []schema.StaffRecord {
				local, _, ok := splitEmail(email)
				if !ok {
					return nil
				}
				return idx.byLocal[local]
			},
		})
	}
	for _, st := range strategies {
		for _, email := range a.emails {
			candidates := uniqueStaff(st.lookup(email))
			switch len(candidates) {
			case 0:
				continue
			case 1:
				return outcome{staff: candidates[0], email: email, method: st.method, matched: true}
			default:
				return outcome{email: email, ambiguous: true}
			}
		}
	}
	return outcome{}
}

// Resolve links every unmapped raw author to at most one active staff record.
// In dry-run mode nothing is written and the summary reports what would change.
func (r *Resolver) Resolve(ctx context.Context, opts Options) (schema.ResolveSummary, error) {
	start := r.now()
	summary := schema.ResolveSummary{DryRun: opts.DryRun, Matched: []schema.Match{}, Unmatched: []schema.UnmatchedAuthor{}}

	rows, err := r.store.ListRawAuthors(ctx)
	if err != nil {
		return summary, err
	}
	staff, err := r.store.ListStaff(ctx)
	if err != nil {
		return summary, err
	}
	mappings, err := r.store.ListMappings(ctx)
	if err != nil {
		return summary, err
	}
	existing := make(map[string]schema.IdentityMapping, len(mappings))
	for _, m := range mappings {
		existing[m.AuthorName] = m
	}

	idx := newStaffIndex(staff, opts.Domains)
	for _, a := range groupAuthors(rows) {
		prev, mapped := existing[a.name]
		if mapped && (!opts.Rematch || prev.Method == schema.ManualMethod) {
			continue
		}
		summary.Candidates++
		log := r.log.WithField("author", a.name)

		if len(a.emails) == 0 {
			if !mapped {
				summary.Unmatched = append(summary.Unmatched, unmatched(a, "", ReasonNoEmail))
			}
			continue
		}

		res := idx.match(a, len(opts.Domains) > 0)
		if !res.matched {
			// A previous mapping survives when nothing active replaces it.
			if mapped {
				continue
			}
			reason := ReasonNoMatch
			if res.ambiguous {
				reason = ReasonAmbiguous
			}
			summary.Unmatched = append(summary.Unmatched, unmatched(a, a.emails[0], reason))
			continue
		}

		m := schema.Match{
			AuthorName: a.name,
			Email:      res.email,
			StaffID:    res.staff.StaffID,
			Method:     res.method,
			Changed:    !mapped || prev.StaffID != res.staff.StaffID || prev.Method != res.method || prev.Email != res.email,
		}
		if m.Changed && !opts.DryRun {
			err := r.store.UpsertMapping(ctx, schema.IdentityMapping{
				AuthorName: m.AuthorName,
				StaffID:    m.StaffID,
				Email:      m.Email,
				Method:     m.Method,
				MappedAt:   r.now().UTC(),
			})
			if err != nil {
				log.WithError(err).Warn("Failed to write identity mapping")
				summary.Unmatched = append(summary.Unmatched, unmatched(a, res.email, ReasonWriteFailed))
				continue
			}
			summary.Written++
			log.WithFields(logrus.Fields{"method": m.Method, "staff_id": m.StaffID}).Debug("Mapped author")
		}
		summary.Matched = append(summary.Matched, m)
	}

	slices.SortFunc(summary.Unmatched, func(x, y schema.UnmatchedAuthor) int {
		if n := cmp.Compare(y.Commits, x.Commits); n != 0 {
			return n
		}
		return cmp.Compare(x.Name, y.Name)
	})
	summary.Duration = r.now().Sub(start)
	r.log.WithFields(logrus.Fields{
		"candidates": summary.Candidates,
		"matched":    len(summary.Matched),
		"unmatched":  len(summary.Unmatched),
		"written":    summary.Written,
		"dry_run":    opts.DryRun,
	}).Info("Identity resolution finished")
	return summary, nil
}

func unmatched(a author, email, reason string) schema.UnmatchedAuthor {
	return schema.UnmatchedAuthor{Name: a.name, Email: email, Commits: a.commits, Reason: reason}
}

// Unmatched previews resolution and returns the authors that still need attention.
func (r *Resolver) Unmatched(ctx context.Context, opts Options) ([]schema.UnmatchedAuthor, error) {
	opts.DryRun = true
	summary, err := r.Resolve(ctx, opts)
	if err != nil {
		return nil, err
	}
	return summary.Unmatched, nil
}

// Map creates or replaces a manual mapping. Only active staff can be mapped to.
func (r *Resolver) Map(ctx context.Context, authorName, staffID string) (schema.IdentityMapping, error) {
	authorName = strings.TrimSpace(authorName)
	if authorName == "" {
		return schema.IdentityMapping{}, errors.New("author name is required")
	}
	staff, found, err := r.store.GetStaff(ctx, strings.TrimSpace(staffID))
	if err != nil {
		return schema.IdentityMapping{}, err
	}
	if !found {
		return schema.IdentityMapping{}, fmt.Errorf("%w: %s", ErrUnknownStaff, staffID)
	}
	if !staff.Status.IsActive() {
		return schema.IdentityMapping{}, fmt.Errorf("%w: %s has status %s", ErrInactiveStaff, staff.StaffID, staff.Status)
	}

	email := staff.Email
	rows, err := r.store.ListRawAuthors(ctx)
	if err != nil {
		return schema.IdentityMapping{}, err
	}
	for _, a := range groupAuthors(rows) {
		if a.name == authorName && len(a.emails) > 0 {
			email = a.emails[0]
			break
		}
	}

	m := schema.IdentityMapping{
		AuthorName: authorName,
		StaffID:    staff.StaffID,
		Email:      email,
		Method:     schema.ManualMethod,
		MappedAt:   r.now().UTC(),
	}
	if err := r.store.UpsertMapping(ctx, m); err != nil {
		return schema.IdentityMapping{}, err
	}
	r.log.WithFields(logrus.Fields{"author": authorName, "staff_id": staff.StaffID, "method": m.Method}).Info("Manual mapping saved")
	return m, nil
}
