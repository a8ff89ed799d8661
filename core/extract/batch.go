package extract

import (
	"context"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"golang.org/x/sync/errgroup"
)

// Batch extracts every locator, opts.Workers at a time, and returns results in input order.
// Locators naming the same repository are processed once. A failing repository never stops the others.
func (e *Extractor) Batch(ctx context.Context, locators []string, opts Options) []schema.RepositoryResult {
	unique := canonical(locators)
	results := make([]schema.RepositoryResult, len(unique))

	workers := opts.Workers
	if workers < 1 {
		workers = contract.DefaultWorkers
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, loc := range unique {
		g.Go(func() error {
			results[i] = e.Extract(gctx, loc, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// canonical rewrites each locator to its parsed form and drops duplicates.
// Unparseable locators are kept as given so they fail as their own result.
func canonical(locators []string) []string {
	out := make([]string, len(locators))
	for i, raw := range locators {
		out[i] = raw
		if loc, err := ParseLocator(raw); err == nil {
			out[i] = loc.Raw
		}
	}
	return contract.DedupeStrings(out)
}
