// Package core is the invocation surface of the pipeline. It wires configuration,
// the store and the git and hosted clients into the extract, resolve and aggregate
// stages and records every invocation in the run bookkeeping table.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/huangsam/orgpulse/core/aggregate"
	"github.com/huangsam/orgpulse/core/extract"
	"github.com/huangsam/orgpulse/core/identity"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/hosted"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
)

// Pipeline runs the stages against one store.
type Pipeline struct {
	cfg    *contract.Config
	store  contract.Store
	git    contract.GitClient
	hosted contract.HostedClient
	log    logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithHostedClient replaces the hosted client built from configuration.
func WithHostedClient(c contract.HostedClient) Option {
	return func(p *Pipeline) { p.hosted = c }
}

// WithClock replaces the clock used by every stage.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunIDs replaces the run identifier generator.
func WithRunIDs(newID func() string) Option {
	return func(p *Pipeline) { p.newID = newID }
}

// NewPipeline builds a pipeline. When the authoritative API is enabled and no client
// was injected, one is built from cfg.API; a bad API configuration is returned as an error.
func NewPipeline(cfg *contract.Config, store contract.Store, git contract.GitClient, log logrus.FieldLogger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:   cfg,
		store: store,
		git:   git,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.hosted == nil && cfg.Extract.UseAPI {
		client, err := hosted.NewClient(cfg.API, log)
		if err != nil {
			return nil, err
		}
		p.hosted = client
	}
	return p, nil
}

// Store returns the store the pipeline writes to.
func (p *Pipeline) Store() contract.Store {
	return p.store
}

// track records a pipeline_runs row around fn. Bookkeeping failures are logged, not returned.
func (p *Pipeline) track(ctx context.Context, kind schema.RunKind, fn func(runID string, log logrus.FieldLogger) (schema.RunStatus, any, error)) error {
	runID := p.newID()
	log := p.log.WithFields(logrus.Fields{"run_id": runID, "kind": kind})
	if err := p.store.BeginRun(ctx, runID, kind, p.now()); err != nil {
		log.WithError(err).Warn("Failed to record run start")
	}
	status, summary, err := fn(runID, log)
	if err != nil {
		status = schema.StatusFailed
		summary = map[string]string{"error": err.Error()}
	}
	if endErr := p.store.EndRun(ctx, runID, status, p.now(), summary); endErr != nil {
		log.WithError(endErr).Warn("Failed to record run end")
	}
	return err
}

// Extract ingests every locator and returns per-repository results.
func (p *Pipeline) Extract(ctx context.Context, locators []string) (schema.ExtractSummary, error) {
	locators = contract.DedupeStrings(locators)
	if len(locators) == 0 {
		return schema.ExtractSummary{}, errors.New("no repository locators given")
	}
	var summary schema.ExtractSummary
	err := p.track(ctx, schema.ExtractRun, func(runID string, log logrus.FieldLogger) (schema.RunStatus, any, error) {
		start := p.now()
		ex := extract.New(p.git, p.store, p.hosted, log, extract.WithClock(p.now))
		summary = schema.ExtractSummary{
			RunID:        runID,
			Repositories: ex.Batch(ctx, locators, extract.OptionsFromConfig(p.cfg)),
		}
		summary.Duration = p.now().Sub(start)
		return extractStatus(summary.Repositories), summary, nil
	})
	return summary, err
}

// extractStatus is failed when nothing was extracted and degraded when anything went wrong.
func extractStatus(results []schema.RepositoryResult) schema.RunStatus {
	failed, degraded := 0, 0
	for _, r := range results {
		switch r.Status {
		case schema.StatusFailed:
			failed++
		case schema.StatusDegraded:
			degraded++
		}
	}
	switch {
	case len(results) > 0 && failed == len(results):
		return schema.StatusFailed
	case failed > 0 || degraded > 0:
		return schema.StatusDegraded
	}
	return schema.StatusOK
}

// ResolveIdentities links raw authors to staff.
func (p *Pipeline) ResolveIdentities(ctx context.Context, opts identity.Options) (schema.ResolveSummary, error) {
	var summary schema.ResolveSummary
	err := p.track(ctx, schema.ResolveRun, func(runID string, log logrus.FieldLogger) (schema.RunStatus, any, error) {
		var err error
		summary, err = identity.New(p.store, log).WithClock(p.now).Resolve(ctx, opts)
		summary.RunID = runID
		if err != nil {
			return schema.StatusFailed, nil, err
		}
		return schema.StatusOK, summary, nil
	})
	return summary, err
}

// UnmatchedAuthors previews resolution and lists authors needing manual attention.
func (p *Pipeline) UnmatchedAuthors(ctx context.Context, opts identity.Options) ([]schema.UnmatchedAuthor, error) {
	return identity.New(p.store, p.log).WithClock(p.now).Unmatched(ctx, opts)
}

// MapIdentity creates a manual mapping.
func (p *Pipeline) MapIdentity(ctx context.Context, authorName, staffID string) (schema.IdentityMapping, error) {
	return identity.New(p.store, p.log).WithClock(p.now).Map(ctx, authorName, staffID)
}

// Aggregate materializes rollups for the selected scope.
func (p *Pipeline) Aggregate(ctx context.Context, opts aggregate.Options) (schema.AggregateSummary, error) {
	var summary schema.AggregateSummary
	err := p.track(ctx, schema.AggregateRun, func(runID string, log logrus.FieldLogger) (schema.RunStatus, any, error) {
		var err error
		summary, err = aggregate.New(p.store, p.store, log, aggregate.WithClock(p.now)).Run(ctx, opts)
		summary.RunID = runID
		if err != nil {
			return schema.StatusFailed, nil, err
		}
		return aggregateStatus(summary), summary, nil
	})
	return summary, err
}

// aggregateStatus is degraded when any calculator did not complete cleanly.
func aggregateStatus(s schema.AggregateSummary) schema.RunStatus {
	for _, c := range s.Calculators {
		if c.Status != schema.StatusOK {
			return schema.StatusDegraded
		}
	}
	return schema.StatusOK
}

// Status reports the persisted state.
func (p *Pipeline) Status(ctx context.Context) (schema.StoreStatus, error) {
	return p.store.GetStatus(ctx)
}
