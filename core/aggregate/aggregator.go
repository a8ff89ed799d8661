// Package aggregate materializes rollup tables from the raw ingestion tables
// and identity mappings. Calculators run in dependency order and only rewrite
// rows whose inputs changed unless a forced run is requested.
package aggregate

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/sirupsen/logrus"
)

// Options controls one aggregation pass.
type Options struct {
	Scope schema.Scope // AllScope runs every calculator
	Force bool
}

// OptionsFromConfig derives aggregation options from validated configuration.
func OptionsFromConfig(cfg *contract.Config) Options {
	return Options{Scope: cfg.Aggregate.Scope, Force: cfg.Aggregate.Force}
}

// Aggregator runs calculators against a store.
type Aggregator struct {
	source      contract.SourceStore
	rollups     contract.RollupStore
	calculators []Calculator
	log         logrus.FieldLogger
	now         func() time.Time
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithClock replaces the clock used for last_calculated stamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithCalculators replaces the built-in calculators.
func WithCalculators(c ...Calculator) Option {
	return func(a *Aggregator) { a.calculators = c }
}

// New returns an Aggregator with the built-in calculators.
func New(source contract.SourceStore, rollups contract.RollupStore, log logrus.FieldLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:      source,
		rollups:     rollups,
		calculators: DefaultCalculators(),
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Plan returns the calculators a run with the given scope would execute, in order.
func (a *Aggregator) Plan(scope schema.Scope) ([]schema.Scope, error) {
	plan, err := a.plan(scope)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Scope, len(plan))
	for i, c := range plan {
		out[i] = c.Scope()
	}
	return out, nil
}

func (a *Aggregator) plan(scope schema.Scope) ([]Calculator, error) {
	ordered, err := order(a.calculators)
	if err != nil {
		return nil, err
	}
	return selectScope(ordered, scope)
}

// Run executes the selected calculators. Calculator failures are reported in the
// summary; only an invalid plan is returned as an error.
func (a *Aggregator) Run(ctx context.Context, opts Options) (schema.AggregateSummary, error) {
	start := a.now()
	summary := schema.AggregateSummary{Force: opts.Force}
	plan, err := a.plan(opts.Scope)
	if err != nil {
		return summary, err
	}

	in := NewInputs(a.source, a.rollups)
	done := make(map[schema.Scope]schema.CalculatorResult, len(plan))
	for _, c := range plan {
		res := a.runCalculator(ctx, c, in, opts.Force, done)
		done[c.Scope()] = res
		summary.Calculators = append(summary.Calculators, res)
	}
	summary.Duration = a.now().Sub(start)
	a.log.WithFields(logrus.Fields{
		"scope":        opts.Scope,
		"force":        opts.Force,
		"recalculated": summary.Recalculated(),
	}).Info("Aggregation finished")
	return summary, nil
}

// runCalculator runs one calculator unless a dependency failed earlier in the run.
// A dependency that had no input leaves its dependents without input as well.
func (a *Aggregator) runCalculator(ctx context.Context, c Calculator, in *Inputs, force bool, done map[schema.Scope]schema.CalculatorResult) schema.CalculatorResult {
	start := a.now()
	res := schema.CalculatorResult{Scope: c.Scope(), Status: schema.StatusOK}
	log := a.log.WithField("calculator", c.Scope())

	missing := ""
	for _, dep := range c.DependsOn() {
		prev, ran := done[dep]
		if !ran {
			continue
		}
		if prev.Status == schema.StatusFailed || prev.Status == schema.StatusSkipped {
			res.Status = schema.StatusSkipped
			res.Error = fmt.Sprintf("dependency %s %s", dep, prev.Status)
			log.WithField("dependency", dep).Warn("Skipping calculator")
			return res
		}
		if prev.MissingDependency != "" && missing == "" {
			missing = tableOf(dep)
		}
	}

	if err := a.materialize(ctx, c, in, force, missing, &res, log); err != nil {
		res.Status = schema.StatusFailed
		res.Error = err.Error()
		log.WithError(err).Warn("Calculator failed")
	}
	res.Duration = a.now().Sub(start)
	return res
}

// materialize computes rows, writes the stale ones and deletes keys that lost their data.
// Without input every stored key of the scope is deleted.
func (a *Aggregator) materialize(ctx context.Context, c Calculator, in *Inputs, force bool, missing string, res *schema.CalculatorResult, log logrus.FieldLogger) error {
	out := Output{MissingDependency: missing}
	if missing == "" {
		var err error
		if out, err = c.Calculate(ctx, in); err != nil {
			return err
		}
	}
	if out.MissingDependency != "" {
		res.Status = schema.StatusDegraded
		res.MissingDependency = out.MissingDependency
		out.Rows = nil
		log.WithField("missing", out.MissingDependency).Warn("Calculator has no input")
	}

	existing, err := a.rollups.LoadRollups(ctx, c.Scope())
	if err != nil {
		return err
	}
	current := make(map[string]schema.RollupRecord, len(existing))
	for _, r := range existing {
		current[keyOf(r.KeyValues()...)] = r
	}

	var writes []schema.RollupRecord
	computed := make(map[string]struct{}, len(out.Rows))
	for _, row := range out.Rows {
		k := keyOf(row.Record.KeyValues()...)
		computed[k] = struct{}{}
		prev, ok := current[k]
		if force || !ok || stale(prev, row) {
			writes = append(writes, row.Record)
			continue
		}
		res.Unchanged++
	}

	var orphanKeys []string
	for k := range current {
		if _, ok := computed[k]; !ok {
			orphanKeys = append(orphanKeys, k)
		}
	}
	slices.Sort(orphanKeys)
	orphans := make([][]any, 0, len(orphanKeys))
	for _, k := range orphanKeys {
		orphans = append(orphans, current[k].KeyValues())
	}

	if len(writes) > 0 {
		if err := a.rollups.UpsertRollups(ctx, writes, a.now()); err != nil {
			return err
		}
	}
	if len(orphans) > 0 {
		if err := a.rollups.DeleteRollups(ctx, c.Scope(), orphans); err != nil {
			return err
		}
	}
	res.Keys = len(out.Rows)
	res.Recalculated = len(writes)
	res.Deleted = len(orphans)
	log.WithFields(logrus.Fields{
		"keys":         res.Keys,
		"recalculated": res.Recalculated,
		"unchanged":    res.Unchanged,
		"deleted":      res.Deleted,
	}).Debug("Calculator finished")
	return nil
}

// tableOf names the rollup table of a scope.
func tableOf(scope schema.Scope) string {
	if rec := schema.NewRollup(scope); rec != nil {
		return rec.Table()
	}
	return string(scope)
}

// stale reports whether a stored row predates its inputs or no longer matches them.
func stale(prev schema.RollupRecord, row Row) bool {
	if row.Watermark.After(prev.Calculated()) {
		return true
	}
	return !valuesEqual(prev.Values(), row.Record.Values())
}

func valuesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
