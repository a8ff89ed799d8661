package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/huangsam/orgpulse/core/aggregate"
	"github.com/huangsam/orgpulse/core/identity"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// toolHandler holds common dependencies for MCP tool handlers.
type toolHandler struct {
	baseCfg  *contract.Config
	pipeline Pipeline
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// identityOptions starts from the configured options and applies request overrides.
func (h *toolHandler) identityOptions(request mcp.CallToolRequest) identity.Options {
	opts := identity.OptionsFromConfig(h.baseCfg)
	if d := request.GetString("domains", ""); d != "" {
		opts.Domains = contract.ParseDomains(d)
	}
	opts.DryRun = request.GetBool("dry_run", opts.DryRun)
	opts.Rematch = request.GetBool("rematch", opts.Rematch)
	return opts
}

func (h *toolHandler) handleExtract(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := strings.ReplaceAll(request.GetString("locators", ""), ",", "\n")
	locators := contract.DedupeStrings(contract.ParseLocatorList(raw))
	if len(locators) == 0 {
		return mcp.NewToolResultError("locators is required"), nil
	}
	summary, err := h.pipeline.Extract(ctx, locators)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}
	return jsonResult(summary)
}

func (h *toolHandler) handleResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	summary, err := h.pipeline.ResolveIdentities(ctx, h.identityOptions(request))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("identity resolution failed: %v", err)), nil
	}
	return jsonResult(summary)
}

func (h *toolHandler) handleUnmatched(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	authors, err := h.pipeline.UnmatchedAuthors(ctx, h.identityOptions(request))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list unmatched authors: %v", err)), nil
	}
	return jsonResult(authors)
}

func (h *toolHandler) handleAggregate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	opts := aggregate.OptionsFromConfig(h.baseCfg)
	if s := request.GetString("scope", ""); s != "" {
		opts.Scope = schema.Scope(strings.ToLower(s))
	}
	if _, ok := schema.ValidScopes[opts.Scope]; !ok {
		return mcp.NewToolResultError(fmt.Sprintf("invalid scope '%s'", opts.Scope)), nil
	}
	opts.Force = request.GetBool("force", opts.Force)

	summary, err := h.pipeline.Aggregate(ctx, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("aggregation failed: %v", err)), nil
	}
	return jsonResult(summary)
}

// handleRollup builds a point lookup tool for a single-column rollup key.
func (h *toolHandler) handleRollup(scope schema.Scope, arg string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key := strings.TrimSpace(request.GetString(arg, ""))
		if key == "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s is required", arg)), nil
		}
		rec, err := h.pipeline.Rollup(ctx, scope, key)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}
		return jsonResult(rec)
	}
}
