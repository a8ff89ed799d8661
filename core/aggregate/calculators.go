package aggregate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/huangsam/orgpulse/schema"
)

// Calculator materializes one rollup table.
type Calculator interface {
	Scope() schema.Scope
	// DependsOn lists the calculators whose rollups this one reads.
	DependsOn() []schema.Scope
	Calculate(ctx context.Context, in *Inputs) (Output, error)
}

// Row is one computed rollup row plus the newest change among the data it was derived from.
type Row struct {
	Record    schema.RollupRecord
	Watermark time.Time
}

// Output is what a calculator produced. A non-empty MissingDependency means
// the calculator had nothing to work from and produced no rows.
type Output struct {
	Rows              []Row
	MissingDependency string
}

// DefaultCalculators returns every built-in calculator.
func DefaultCalculators() []Calculator {
	return []Calculator{
		dailyCalculator{},
		authorCalculator{},
		repositoryCalculator{},
		commitTimeCalculator{},
		pullRequestCalculator{},
		staffCalculator{},
		teamCalculator{},
	}
}

// keyOf renders key values as a comparable map key.
func keyOf(vals ...any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "\x1f")
}

// rowSet accumulates rows by natural key together with their watermarks.
type rowSet[P schema.RollupRecord] struct {
	rows  map[string]P
	marks map[string]time.Time
}

func newRowSet[P schema.RollupRecord]() *rowSet[P] {
	return &rowSet[P]{rows: make(map[string]P), marks: make(map[string]time.Time)}
}

// at returns the row for key, creating it with mk, and advances its watermark.
func (s *rowSet[P]) at(key string, mark time.Time, mk func() P) P {
	r, ok := s.rows[key]
	if !ok {
		r = mk()
		s.rows[key] = r
	}
	s.marks[key] = latest(s.marks[key], mark)
	return r
}

// output finishes every row and returns them ordered by key.
func (s *rowSet[P]) output(fin func(key string, r P)) Output {
	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := Output{Rows: make([]Row, 0, len(keys))}
	for _, k := range keys {
		r := s.rows[k]
		if fin != nil {
			fin(k, r)
		}
		out.Rows = append(out.Rows, Row{Record: r, Watermark: s.marks[k]})
	}
	return out
}

type stringSet map[string]map[string]struct{}

func (s stringSet) add(key, v string) {
	if s[key] == nil {
		s[key] = make(map[string]struct{})
	}
	s[key][v] = struct{}{}
}

type idSet map[string]map[int64]struct{}

func (s idSet) add(key string, v int64) {
	if s[key] == nil {
		s[key] = make(map[int64]struct{})
	}
	s[key][v] = struct{}{}
}

type dailyCalculator struct{}

func (dailyCalculator) Scope() schema.Scope       { return schema.DailyScope }
func (dailyCalculator) DependsOn() []schema.Scope { return nil }

func (dailyCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	commits, err := in.Commits(ctx)
	if err != nil {
		return Output{}, err
	}
	rows := newRowSet[*schema.DailyRollup]()
	for _, c := range commits {
		day := dayOf(c.Timestamp)
		r := rows.at(keyOf(day, c.Author.Name, c.RepositoryID), c.IngestedAt, func() *schema.DailyRollup {
			return &schema.DailyRollup{Day: day, AuthorName: c.Author.Name, RepositoryID: c.RepositoryID}
		})
		addCommit(&r.CommitCounters, c)
	}
	return rows.output(func(_ string, r *schema.DailyRollup) { finish(&r.CommitCounters) }), nil
}

type authorCalculator struct{}

func (authorCalculator) Scope() schema.Scope       { return schema.AuthorScope }
func (authorCalculator) DependsOn() []schema.Scope { return nil }

func (authorCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	commits, err := in.Commits(ctx)
	if err != nil {
		return Output{}, err
	}
	prs, err := in.PullRequests(ctx)
	if err != nil {
		return Output{}, err
	}
	approvals, err := in.Approvals(ctx)
	if err != nil {
		return Output{}, err
	}

	rows := newRowSet[*schema.AuthorRollup]()
	mk := func(name string) func() *schema.AuthorRollup {
		return func() *schema.AuthorRollup { return &schema.AuthorRollup{AuthorName: name} }
	}
	repos, days := idSet{}, stringSet{}
	spans := map[string]*span{}
	for _, c := range commits {
		name := c.Author.Name
		r := rows.at(name, c.IngestedAt, mk(name))
		addCommit(&r.CommitCounters, c)
		day := dayOf(c.Timestamp)
		repos.add(name, c.RepositoryID)
		days.add(name, day)
		if spans[name] == nil {
			spans[name] = &span{}
		}
		spans[name].add(day)
	}
	for _, pr := range prs {
		name := pr.Author.Name
		r := rows.at(name, pr.IngestedAt, mk(name))
		r.PRsAuthored++
		if pr.State == schema.MergedState {
			r.PRsMerged++
		}
	}
	for _, a := range approvals {
		name := a.Approver.Name
		r := rows.at(name, a.IngestedAt, mk(name))
		r.ApprovalsGiven++
	}
	return rows.output(func(name string, r *schema.AuthorRollup) {
		finish(&r.CommitCounters)
		r.Repositories = int64(len(repos[name]))
		r.ActiveDays = int64(len(days[name]))
		if s := spans[name]; s != nil {
			r.FirstCommitDay, r.LastCommitDay = s.first, s.last
		}
	}), nil
}

type repositoryCalculator struct{}

func (repositoryCalculator) Scope() schema.Scope       { return schema.RepositoryScope }
func (repositoryCalculator) DependsOn() []schema.Scope { return nil }

func (repositoryCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	repos, err := in.Repositories(ctx)
	if err != nil {
		return Output{}, err
	}
	commits, err := in.Commits(ctx)
	if err != nil {
		return Output{}, err
	}
	prs, err := in.PullRequests(ctx)
	if err != nil {
		return Output{}, err
	}
	approvals, err := in.Approvals(ctx)
	if err != nil {
		return Output{}, err
	}

	rows := newRowSet[*schema.RepositoryRollup]()
	mk := func(id int64) func() *schema.RepositoryRollup {
		return func() *schema.RepositoryRollup { return &schema.RepositoryRollup{RepositoryID: id} }
	}
	for _, repo := range repos {
		r := rows.at(keyOf(repo.ID), repo.CreatedAt, mk(repo.ID))
		r.ProjectKey, r.Slug = repo.ProjectKey, repo.Slug
	}
	authors := stringSet{}
	spans := map[string]*span{}
	for _, c := range commits {
		key := keyOf(c.RepositoryID)
		r := rows.at(key, c.IngestedAt, mk(c.RepositoryID))
		addCommit(&r.CommitCounters, c)
		authors.add(key, c.Author.Name)
		if spans[key] == nil {
			spans[key] = &span{}
		}
		spans[key].add(dayOf(c.Timestamp))
	}
	for _, pr := range prs {
		r := rows.at(keyOf(pr.RepositoryID), pr.IngestedAt, mk(pr.RepositoryID))
		switch pr.State {
		case schema.OpenState:
			r.PRsOpen++
		case schema.MergedState:
			r.PRsMerged++
		case schema.DeclinedState:
			r.PRsDeclined++
		}
	}
	for _, a := range approvals {
		r := rows.at(keyOf(a.RepositoryID), a.IngestedAt, mk(a.RepositoryID))
		r.Approvals++
	}
	return rows.output(func(key string, r *schema.RepositoryRollup) {
		finish(&r.CommitCounters)
		r.Authors = int64(len(authors[key]))
		if s := spans[key]; s != nil {
			r.FirstCommitDay, r.LastCommitDay = s.first, s.last
		}
	}), nil
}

type commitTimeCalculator struct{}

func (commitTimeCalculator) Scope() schema.Scope       { return schema.CommitTimeScope }
func (commitTimeCalculator) DependsOn() []schema.Scope { return nil }

func (commitTimeCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	commits, err := in.Commits(ctx)
	if err != nil {
		return Output{}, err
	}
	rows := newRowSet[*schema.CommitTimeRollup]()
	for _, c := range commits {
		ts := c.Timestamp.UTC()
		weekday, hour := int64(ts.Weekday()), int64(ts.Hour())
		r := rows.at(keyOf(c.Author.Name, weekday, hour), c.IngestedAt, func() *schema.CommitTimeRollup {
			return &schema.CommitTimeRollup{AuthorName: c.Author.Name, Weekday: weekday, Hour: hour}
		})
		r.Commits++
		r.LinesAdded += c.LinesAdded
		r.LinesDeleted += c.LinesDeleted
	}
	return rows.output(nil), nil
}

type pullRequestCalculator struct{}

func (pullRequestCalculator) Scope() schema.Scope       { return schema.PullRequestScope }
func (pullRequestCalculator) DependsOn() []schema.Scope { return nil }

func (pullRequestCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	prs, err := in.PullRequests(ctx)
	if err != nil {
		return Output{}, err
	}
	approvals, err := in.Approvals(ctx)
	if err != nil {
		return Output{}, err
	}

	type mergeTime struct {
		hours float64
		n     int64
	}
	rows := newRowSet[*schema.PullRequestRollup]()
	merges := map[string]*mergeTime{}
	owner := make(map[int64]*schema.RawPullRequest, len(prs))
	for i := range prs {
		pr := &prs[i]
		owner[pr.ID] = pr
		key := keyOf(pr.Author.Name, pr.RepositoryID)
		r := rows.at(key, pr.IngestedAt, func() *schema.PullRequestRollup {
			return &schema.PullRequestRollup{AuthorName: pr.Author.Name, RepositoryID: pr.RepositoryID}
		})
		switch pr.State {
		case schema.OpenState:
			r.PRsOpen++
		case schema.MergedState:
			r.PRsMerged++
			if pr.MergedAt != nil {
				if merges[key] == nil {
					merges[key] = &mergeTime{}
				}
				merges[key].hours += max(pr.MergedAt.Sub(pr.CreatedAt).Hours(), 0)
				merges[key].n++
			}
		case schema.DeclinedState:
			r.PRsDeclined++
		}
		if pr.Source == schema.HeuristicSource {
			r.PRsHeuristic++
		}
		r.PRCommits += pr.CommitCount
		r.LinesChanged += pr.LinesChanged
	}
	for _, a := range approvals {
		pr, ok := owner[a.PullRequestID]
		if !ok {
			continue
		}
		key := keyOf(pr.Author.Name, pr.RepositoryID)
		r := rows.at(key, a.IngestedAt, nil)
		r.ApprovalsReceived++
	}
	return rows.output(func(key string, r *schema.PullRequestRollup) {
		if m := merges[key]; m != nil && m.n > 0 {
			r.AvgMergeHours = round2(m.hours / float64(m.n))
		}
		r.AvgLinesPerPR = ratio(r.LinesChanged, r.PRsOpen+r.PRsMerged+r.PRsDeclined)
	}), nil
}

type staffCalculator struct{}

func (staffCalculator) Scope() schema.Scope { return schema.StaffScope }
func (staffCalculator) DependsOn() []schema.Scope {
	return []schema.Scope{schema.DailyScope, schema.AuthorScope}
}

func (staffCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	mappings, err := in.Mappings(ctx)
	if err != nil {
		return Output{}, err
	}
	if len(mappings) == 0 {
		return Output{MissingDependency: "identity_mappings"}, nil
	}
	staff, err := in.Staff(ctx)
	if err != nil {
		return Output{}, err
	}
	if len(staff) == 0 {
		return Output{MissingDependency: "staff"}, nil
	}
	daily, err := in.Rollups(ctx, schema.DailyScope)
	if err != nil {
		return Output{}, err
	}
	authors, err := in.Rollups(ctx, schema.AuthorScope)
	if err != nil {
		return Output{}, err
	}

	byID := make(map[string]schema.StaffRecord, len(staff))
	for _, s := range staff {
		byID[s.StaffID] = s
	}
	rows := newRowSet[*schema.StaffRollup]()
	owner := make(map[string]string, len(mappings))
	for _, m := range mappings {
		s, ok := byID[m.StaffID]
		if !ok {
			continue
		}
		owner[m.AuthorName] = s.StaffID
		mark := m.MappedAt
		if s.UpdatedAt != nil {
			mark = latest(mark, *s.UpdatedAt)
		}
		r := rows.at(s.StaffID, mark, func() *schema.StaffRollup {
			return &schema.StaffRollup{StaffID: s.StaffID, StaffName: s.Name, Unit: s.Unit}
		})
		r.Identities++
	}

	repos, days := idSet{}, stringSet{}
	spans := map[string]*span{}
	for _, rec := range daily {
		d := rec.(*schema.DailyRollup)
		id, ok := owner[d.AuthorName]
		if !ok {
			continue
		}
		r := rows.at(id, d.Calculated(), nil)
		addCounters(&r.CommitCounters, d.CommitCounters)
		repos.add(id, d.RepositoryID)
		days.add(id, d.Day)
		if spans[id] == nil {
			spans[id] = &span{}
		}
		spans[id].add(d.Day)
	}
	for _, rec := range authors {
		a := rec.(*schema.AuthorRollup)
		id, ok := owner[a.AuthorName]
		if !ok {
			continue
		}
		r := rows.at(id, a.Calculated(), nil)
		r.PRsAuthored += a.PRsAuthored
		r.PRsMerged += a.PRsMerged
		r.ApprovalsGiven += a.ApprovalsGiven
	}
	return rows.output(func(id string, r *schema.StaffRollup) {
		finish(&r.CommitCounters)
		r.Repositories = int64(len(repos[id]))
		r.ActiveDays = int64(len(days[id]))
		if s := spans[id]; s != nil {
			r.FirstCommitDay, r.LastCommitDay = s.first, s.last
		}
	}), nil
}

type teamCalculator struct{}

func (teamCalculator) Scope() schema.Scope       { return schema.TeamScope }
func (teamCalculator) DependsOn() []schema.Scope { return []schema.Scope{schema.StaffScope} }

func (teamCalculator) Calculate(ctx context.Context, in *Inputs) (Output, error) {
	staff, err := in.Staff(ctx)
	if err != nil {
		return Output{}, err
	}
	if len(staff) == 0 {
		return Output{MissingDependency: "staff"}, nil
	}
	staffRows, err := in.Rollups(ctx, schema.StaffScope)
	if err != nil {
		return Output{}, err
	}
	if len(staffRows) == 0 {
		return Output{MissingDependency: "rollup_staff"}, nil
	}

	rows := newRowSet[*schema.TeamRollup]()
	unitOf := make(map[string]string, len(staff))
	for _, s := range staff {
		unit := strings.TrimSpace(s.Unit)
		if unit == "" {
			continue
		}
		unitOf[s.StaffID] = unit
		var mark time.Time
		if s.UpdatedAt != nil {
			mark = *s.UpdatedAt
		}
		r := rows.at(unit, mark, func() *schema.TeamRollup { return &schema.TeamRollup{Unit: unit} })
		if s.Status.IsActive() {
			r.Members++
		}
	}
	for _, rec := range staffRows {
		sr := rec.(*schema.StaffRollup)
		unit, ok := unitOf[sr.StaffID]
		if !ok {
			continue
		}
		r := rows.at(unit, sr.Calculated(), nil)
		addCounters(&r.CommitCounters, sr.CommitCounters)
		r.PRsAuthored += sr.PRsAuthored
		r.PRsMerged += sr.PRsMerged
		r.ApprovalsGiven += sr.ApprovalsGiven
		if sr.Commits > 0 {
			r.Contributors++
		}
	}
	return rows.output(func(_ string, r *schema.TeamRollup) {
		finish(&r.CommitCounters)
		r.AvgCommitsPerContributor = ratio(r.Commits, r.Contributors)
	}), nil
}
