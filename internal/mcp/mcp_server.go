// Package mcp provides the Model Context Protocol (MCP) server implementation.
package mcp

import (
	"context"

	"github.com/huangsam/orgpulse/core/aggregate"
	"github.com/huangsam/orgpulse/core/identity"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Pipeline is the invocation surface the tools call into.
type Pipeline interface {
	Extract(ctx context.Context, locators []string) (schema.ExtractSummary, error)
	ResolveIdentities(ctx context.Context, opts identity.Options) (schema.ResolveSummary, error)
	UnmatchedAuthors(ctx context.Context, opts identity.Options) ([]schema.UnmatchedAuthor, error)
	Aggregate(ctx context.Context, opts aggregate.Options) (schema.AggregateSummary, error)
	Rollup(ctx context.Context, scope schema.Scope, parts ...string) (schema.RollupRecord, error)
}

// NewMCPServer initializes and configures the OrgPulse MCP server without starting it.
// This is exposed for unit testing.
func NewMCPServer(baseCfg *contract.Config, p Pipeline) *server.MCPServer {
	s := server.NewMCPServer(
		"OrgPulse Metrics Server",
		"1.0.0",
		server.WithLogging(),
	)

	h := &toolHandler{
		baseCfg:  baseCfg,
		pipeline: p,
	}

	s.AddTool(mcp.NewTool("extract_repositories",
		mcp.WithDescription("Ingest commit, pull request and approval history of one or more repositories."),
		mcp.WithString("locators", mcp.Description("Comma or newline separated clone URLs or local repository paths."), mcp.Required()),
	), h.handleExtract)

	s.AddTool(mcp.NewTool("resolve_identities",
		mcp.WithDescription("Link raw commit authors to staff records by exact email, then username plus recognized domain."),
		mcp.WithString("domains", mcp.Description("Comma-separated recognized organizational email domains. Defaults to the configured list.")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview matches without writing mappings.")),
		mcp.WithBoolean("rematch", mcp.Description("Re-evaluate existing non-manual mappings.")),
	), h.handleResolve)

	s.AddTool(mcp.NewTool("aggregate_metrics",
		mcp.WithDescription("Recompute rollup tables. Incremental by default; only stale rows are rewritten."),
		mcp.WithString("scope", mcp.Description("Calculator to run. Defaults to 'all'."),
			mcp.Enum("all", "daily", "author", "repository", "commit-time", "pull-request", "staff", "team")),
		mcp.WithBoolean("force", mcp.Description("Rewrite every row regardless of staleness.")),
	), h.handleAggregate)

	s.AddTool(mcp.NewTool("get_staff_rollup",
		mcp.WithDescription("Look up the activity rollup of one staff member."),
		mcp.WithString("staff_id", mcp.Description("Staff identifier."), mcp.Required()),
	), h.handleRollup(schema.StaffScope, "staff_id"))

	s.AddTool(mcp.NewTool("get_team_rollup",
		mcp.WithDescription("Look up the activity rollup of one organizational unit."),
		mcp.WithString("unit", mcp.Description("Organizational unit name."), mcp.Required()),
	), h.handleRollup(schema.TeamScope, "unit"))

	s.AddTool(mcp.NewTool("list_unmatched_authors",
		mcp.WithDescription("List raw authors that no identity strategy could link to an active staff record."),
		mcp.WithString("domains", mcp.Description("Comma-separated recognized organizational email domains. Defaults to the configured list.")),
	), h.handleUnmatched)

	return s
}

// StartMCPServer serves the tools over stdio until the client disconnects.
func StartMCPServer(_ context.Context, baseCfg *contract.Config, p Pipeline) error {
	return server.ServeStdio(NewMCPServer(baseCfg, p))
}
