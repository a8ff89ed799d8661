package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/hosted"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
)

// insertBatchSize bounds how many commits are written per transaction.
const insertBatchSize = 500

// Options controls one extraction batch.
type Options struct {
	Branch      string // ref to walk; HEAD when empty
	WorkDir     string // parent of temporary clones; the system temp dir when empty
	KeepWorkDir bool
	UseAPI      bool
	States      []schema.PRState // pull request states fetched from the hosted API
	Workers     int
}

// OptionsFromConfig derives extraction options from validated configuration.
func OptionsFromConfig(cfg *contract.Config) Options {
	return Options{
		Branch:      cfg.Extract.Branch,
		WorkDir:     cfg.Extract.WorkDir,
		KeepWorkDir: cfg.Extract.KeepWorkDir,
		UseAPI:      cfg.Extract.UseAPI,
		States:      cfg.API.States,
		Workers:     cfg.Extract.Workers,
	}
}

// Extractor walks repository history and stores what is not stored yet.
type Extractor struct {
	git      contract.GitClient
	store    contract.RawStore
	hosted   contract.HostedClient
	matchers []Matcher
	log      logrus.FieldLogger
	now      func() time.Time
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithMatchers replaces the detection cascade.
func WithMatchers(m ...Matcher) Option {
	return func(e *Extractor) { e.matchers = m }
}

// WithClock replaces the clock used for durations and bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.now = now }
}

// New returns an Extractor. hostedClient may be nil when no platform is configured.
func New(git contract.GitClient, store contract.RawStore, hostedClient contract.HostedClient, log logrus.FieldLogger, opts ...Option) *Extractor {
	e := &Extractor{
		git:      git,
		store:    store,
		hosted:   hostedClient,
		matchers: DefaultMatchers(),
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// repoRun carries per-repository state through one extraction.
type repoRun struct {
	repo   schema.RawRepository
	dir    string
	result *schema.RepositoryResult
}

// Extract ingests one repository. Failures are recorded in the result rather than returned.
func (e *Extractor) Extract(ctx context.Context, locator string, opts Options) schema.RepositoryResult {
	start := e.now()
	result := schema.RepositoryResult{Locator: locator, Status: schema.StatusOK}
	log := e.log.WithField("repo", locator)

	if err := e.extract(ctx, locator, opts, &result, log); err != nil {
		result.Status = schema.StatusFailed
		result.Error = err.Error()
		log.WithError(err).Warn("Repository extraction failed")
	}
	result.Duration = e.now().Sub(start)
	return result
}

func (e *Extractor) extract(ctx context.Context, locator string, opts Options, result *schema.RepositoryResult, log logrus.FieldLogger) error {
	loc, err := ParseLocator(locator)
	if err != nil {
		return err
	}
	result.Locator = loc.Raw

	repo, err := e.store.EnsureRepository(ctx, schema.RawRepository{Locator: loc.Raw, ProjectKey: loc.ProjectKey, Slug: loc.Slug})
	if err != nil {
		return err
	}
	result.RepositoryID = repo.ID

	area, err := acquire(ctx, e.git, loc, opts.WorkDir, opts.KeepWorkDir, log)
	if err != nil {
		return err
	}
	defer area.cleanup()

	run := &repoRun{repo: repo, dir: area.dir, result: result}

	// Authoritative data first: when it is available, heuristics are not consulted.
	heuristics := true
	if opts.UseAPI && e.hosted != nil {
		prs, err := e.fetchAuthoritative(ctx, loc, opts.States)
		if err != nil {
			reason := "hosted api error"
			if errors.Is(err, hosted.ErrUnavailable) {
				reason = "hosted api unavailable"
			}
			result.Status = schema.StatusDegraded
			result.Degradation = fmt.Sprintf("%s, using history heuristics: %v", reason, err)
			log.WithError(err).Warn("Falling back to history heuristics")
		} else {
			heuristics = false
			result.PRSource = schema.APISource
			if err := e.savePullRequests(ctx, run, prs); err != nil {
				return err
			}
			if result.PullRequestsReplaced, err = e.store.DeleteHeuristicPullRequests(ctx, repo.ID); err != nil {
				return err
			}
		}
	}
	if heuristics {
		result.PRSource = schema.HeuristicSource
	}

	candidates, err := e.walk(ctx, run, opts.Branch, heuristics)
	if err != nil {
		return err
	}
	if heuristics {
		prs, err := e.buildHeuristic(ctx, run, candidates)
		if err != nil {
			return err
		}
		if err := e.savePullRequests(ctx, run, prs); err != nil {
			return err
		}
	}

	if err := e.store.MarkExtracted(ctx, repo.ID, e.now()); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"commits_new":   result.CommitsNew,
		"prs_new":       result.PullRequestsNew,
		"prs_replaced":  result.PullRequestsReplaced,
		"approvals_new": result.ApprovalsNew,
		"merges":        result.MergesSeen,
		"matched":       result.MergesMatched,
	}).Info("Repository extracted")
	return nil
}

// heuristicMerge is a merge commit whose message matched a detection strategy.
type heuristicMerge struct {
	entry     LogEntry
	candidate Candidate
}

// walk streams history, stores unseen commits and collects heuristic candidates among them.
// Stored merges whose pull request never made it to the store, because an earlier run
// stopped between the two writes, are collected again.
func (e *Extractor) walk(ctx context.Context, run *repoRun, branch string, detect bool) ([]heuristicMerge, error) {
	ref := branch
	if ref == "" {
		ref = "HEAD"
	}
	branchName := ref
	if resolved, err := e.git.ResolveRef(ctx, run.dir, ref); err == nil && resolved != "" {
		branchName = resolved
	}

	known, err := e.store.KnownCommits(ctx, run.repo.ID)
	if err != nil {
		return nil, err
	}
	var pulls *storedPulls
	if detect {
		if pulls, err = e.loadStoredPulls(ctx, run.repo.ID); err != nil {
			return nil, err
		}
	}

	var pending []schema.RawCommit
	var candidates []heuristicMerge
	recovered := 0
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := e.store.InsertCommits(ctx, pending)
		if err != nil {
			return err
		}
		run.result.CommitsNew += n
		pending = pending[:0]
		return nil
	}

	err = e.git.StreamLog(ctx, run.dir, ref, func(r io.Reader) error {
		return ParseLog(r, func(entry LogEntry) error {
			run.result.CommitsSeen++
			if _, ok := known[entry.Hash]; ok {
				run.result.CommitsSkipped++
				if detect && entry.IsMerge() {
					if c, _, ok := Detect(e.matchers, entry.Message); ok && pulls.missing(c, entry.Hash) {
						recovered++
						candidates = append(candidates, heuristicMerge{entry: entry, candidate: c})
					}
				}
				return nil
			}
			known[entry.Hash] = struct{}{}

			if entry.IsMerge() {
				run.result.MergesSeen++
			}
			if detect && entry.IsMerge() {
				if c, name, ok := Detect(e.matchers, entry.Message); ok {
					run.result.MergesMatched++
					if run.result.MatchesByPattern == nil {
						run.result.MatchesByPattern = make(map[string]int)
					}
					run.result.MatchesByPattern[name]++
					candidates = append(candidates, heuristicMerge{entry: entry, candidate: c})
				}
			}

			pending = append(pending, schema.RawCommit{
				RepositoryID: run.repo.ID,
				Hash:         entry.Hash,
				Author:       entry.Author,
				Committer:    entry.Committer,
				Timestamp:    entry.Timestamp,
				Message:      entry.Message,
				LinesAdded:   entry.LinesAdded,
				LinesDeleted: entry.LinesDeleted,
				CharsAdded:   entry.CharsAdded,
				CharsDeleted: entry.CharsDeleted,
				FilesChanged: entry.FilesChanged,
				Extensions:   entry.Extensions,
				Branch:       branchName,
				IsMerge:      entry.IsMerge(),
			})
			if len(pending) >= insertBatchSize {
				return flush()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		e.log.WithFields(logrus.Fields{"repo": run.repo.Locator, "merges": recovered}).Info("Recovering pull requests of stored merges")
	}
	return candidates, flush()
}

// storedPulls indexes the pull requests a repository already has.
type storedPulls struct {
	numbers       map[int64]struct{}
	merges        map[string]struct{}
	authoritative bool
}

func (e *Extractor) loadStoredPulls(ctx context.Context, repositoryID int64) (*storedPulls, error) {
	prs, err := e.store.KnownPullRequests(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	p := &storedPulls{
		numbers: make(map[int64]struct{}, len(prs)),
		merges:  make(map[string]struct{}, len(prs)),
	}
	for _, pr := range prs {
		p.numbers[pr.Number] = struct{}{}
		if pr.MergeHash != "" {
			p.merges[pr.MergeHash] = struct{}{}
		}
		if pr.Source != schema.HeuristicSource {
			p.authoritative = true
		}
	}
	return p, nil
}

// missing reports whether a candidate found on a stored merge still needs a row.
// A repository with authoritative rows gets none from stored history.
func (p *storedPulls) missing(c Candidate, mergeHash string) bool {
	if p.authoritative {
		return false
	}
	if _, ok := p.numbers[c.Number]; ok {
		return false
	}
	_, ok := p.merges[mergeHash]
	return !ok
}

// buildHeuristic turns matched merges into pull requests.
// Walk order is newest first, so the newest merge wins when two share a number.
func (e *Extractor) buildHeuristic(ctx context.Context, run *repoRun, merges []heuristicMerge) ([]schema.RawPullRequest, error) {
	out := make([]schema.RawPullRequest, 0, len(merges))
	for _, m := range merges {
		commits, err := e.git.CountCommits(ctx, run.dir, m.entry.Parents[0], m.entry.Parents[1])
		if err != nil {
			return nil, fmt.Errorf("failed to count commits of merge %s: %w", m.entry.Hash, err)
		}
		source, target := parseBranches(m.entry.Message)
		merged := m.entry.Timestamp
		out = append(out, schema.RawPullRequest{
			RepositoryID: run.repo.ID,
			Number:       m.candidate.Number,
			Title:        m.candidate.Title,
			Description:  restOfMessage(m.entry.Message),
			Author:       m.entry.Author,
			CreatedAt:    merged,
			MergedAt:     &merged,
			State:        schema.MergedState,
			SourceBranch: source,
			TargetBranch: target,
			CommitCount:  commits,
			LinesChanged: m.entry.LinesAdded + m.entry.LinesDeleted,
			Source:       schema.HeuristicSource,
			MergeHash:    m.entry.Hash,
			Approvals:    ParseApprovalTrailers(m.entry.Message, merged),
		})
	}
	return out, nil
}

// fetchAuthoritative pulls every pull request in the requested states with its sub-resources.
func (e *Extractor) fetchAuthoritative(ctx context.Context, loc Locator, states []schema.PRState) ([]schema.RawPullRequest, error) {
	if len(states) == 0 {
		states = []schema.PRState{schema.MergedState}
	}
	var out []schema.RawPullRequest
	for _, state := range states {
		listed, err := e.hosted.ListPullRequests(ctx, loc.ProjectKey, loc.Slug, state)
		if err != nil {
			return nil, err
		}
		for _, summary := range listed {
			pr, err := e.hosted.GetPullRequest(ctx, loc.ProjectKey, loc.Slug, summary.Number)
			if err != nil {
				return nil, err
			}
			if pr.CommitCount == 0 {
				if pr.CommitCount, err = e.hosted.CountCommits(ctx, loc.ProjectKey, loc.Slug, summary.Number); err != nil {
					return nil, err
				}
			}
			if pr.Approvals, err = e.hosted.ListApprovals(ctx, loc.ProjectKey, loc.Slug, summary.Number); err != nil {
				return nil, err
			}
			pr.Source = schema.APISource
			out = append(out, pr)
		}
	}
	return out, nil
}

func (e *Extractor) savePullRequests(ctx context.Context, run *repoRun, prs []schema.RawPullRequest) error {
	for _, pr := range prs {
		pr.RepositoryID = run.repo.ID
		created, approvals, err := e.store.SavePullRequest(ctx, pr)
		if err != nil {
			return err
		}
		if created {
			run.result.PullRequestsNew++
		}
		run.result.ApprovalsNew += approvals
	}
	return nil
}
