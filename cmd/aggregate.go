package cmd

import (
	"fmt"
	"strings"

	"github.com/huangsam/orgpulse/core/aggregate"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/outwriter"
	"github.com/huangsam/orgpulse/schema"
	"github.com/spf13/cobra"
)

// aggregateCmd materializes the rollup tables.
var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute rollup tables from raw history and identity mappings",
	Long: `Run the calculators in dependency order:

  daily, author, repository, commit-time, pull-request  read raw history
  staff                                                 sums daily and author rollups per mapped author
  team                                                  sums staff rollups per organizational unit

By default only rows whose inputs changed since they were last written are
rewritten, and rows that lost their inputs are deleted. --force rewrites all rows.
A calculator whose upstream failed in the same run is skipped.

Examples:
  # Incremental pass over every table
  orgpulse aggregate

  # Rebuild the team table only
  orgpulse aggregate --scope team --force`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		summary, err := pipeline.Aggregate(rootCtx, aggregate.OptionsFromConfig(cfg))
		if err != nil {
			contract.LogFatal("Failed to aggregate metrics", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteAggregate(summary); err != nil {
			contract.LogFatal("Failed to write aggregation summary", err)
		}
	},
}

// rollupCmd groups rollup lookups.
var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Query materialized rollup tables",
}

// rollupGetCmd performs a point lookup.
var rollupGetCmd = &cobra.Command{
	Use:   "get KEY...",
	Short: "Print one rollup row",
	Long: `Look up one row by its key. Multi-column keys are given as separate arguments
or as one comma-separated argument.

Keys per scope:
  daily         day, author_name, repository_id
  author        author_name
  repository    repository_id
  commit-time   author_name, weekday, hour
  pull-request  author_name, repository_id
  staff         staff_id
  team          unit

Examples:
  orgpulse rollup get S7
  orgpulse rollup get --scope team Payments
  orgpulse rollup get --scope daily 2024-03-04,"Jane Doe",1 --output json`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: sharedSetupWrapper,
	Run: func(cmd *cobra.Command, args []string) {
		raw, _ := cmd.Flags().GetString("scope")
		scope := schema.Scope(strings.ToLower(strings.TrimSpace(raw)))
		if scope == schema.AllScope || schema.NewRollup(scope) == nil {
			contract.LogFatal("Invalid lookup", fmt.Errorf("unknown rollup scope '%s'", raw))
		}
		rec, err := pipeline.Rollup(rootCtx, scope, args...)
		if err != nil {
			contract.LogFatal("Failed to look up rollup", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteRollup(rec); err != nil {
			contract.LogFatal("Failed to write rollup", err)
		}
	},
}
