package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/huangsam/orgpulse/core/aggregate"
	"github.com/huangsam/orgpulse/core/identity"
	"github.com/huangsam/orgpulse/internal/contract"
	mcp_internal "github.com/huangsam/orgpulse/internal/mcp"
	"github.com/huangsam/orgpulse/schema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Extract(ctx context.Context, locators []string) (schema.ExtractSummary, error) {
	ret := m.Called(ctx, locators)
	return ret.Get(0).(schema.ExtractSummary), ret.Error(1)
}

func (m *mockPipeline) ResolveIdentities(ctx context.Context, opts identity.Options) (schema.ResolveSummary, error) {
	ret := m.Called(ctx, opts)
	return ret.Get(0).(schema.ResolveSummary), ret.Error(1)
}

func (m *mockPipeline) UnmatchedAuthors(ctx context.Context, opts identity.Options) ([]schema.UnmatchedAuthor, error) {
	ret := m.Called(ctx, opts)
	authors, _ := ret.Get(0).([]schema.UnmatchedAuthor)
	return authors, ret.Error(1)
}

func (m *mockPipeline) Aggregate(ctx context.Context, opts aggregate.Options) (schema.AggregateSummary, error) {
	ret := m.Called(ctx, opts)
	return ret.Get(0).(schema.AggregateSummary), ret.Error(1)
}

func (m *mockPipeline) Rollup(ctx context.Context, scope schema.Scope, parts ...string) (schema.RollupRecord, error) {
	ret := m.Called(ctx, scope, parts)
	rec, _ := ret.Get(0).(schema.RollupRecord)
	return rec, ret.Error(1)
}

var baseCfg = &contract.Config{
	Identity:  contract.IdentityConfig{Domains: []string{"corp.example"}},
	Aggregate: contract.AggregateConfig{Scope: schema.AllScope},
}

func call(t *testing.T, p *mockPipeline, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	s := mcp_internal.NewMCPServer(baseCfg, p)
	tool := s.GetTool(name)
	require.NotNil(t, tool, "Tool %s should exist", name)
	res, err := tool.Handler(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: name, Arguments: args},
	})
	require.NoError(t, err, "The MCP handler should not return a raw error for tool logic failures")
	return res
}

func text(res *mcp.CallToolResult) string {
	return res.Content[0].(mcp.TextContent).Text
}

func TestExtractRepositories(t *testing.T) {
	p := &mockPipeline{}
	p.On("Extract", mock.Anything, []string{"/src/cg/orders", "https://git.example.com/scm/cg/billing.git"}).
		Return(schema.ExtractSummary{RunID: "run-1"}, nil)

	res := call(t, p, "extract_repositories", map[string]any{
		"locators": "/src/cg/orders, https://git.example.com/scm/cg/billing.git\n/src/cg/orders",
	})
	assert.False(t, res.IsError)
	assert.Contains(t, text(res), `"run_id": "run-1"`)
	p.AssertExpectations(t)

	res = call(t, &mockPipeline{}, "extract_repositories", map[string]any{"locators": " , "})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "locators is required")
}

func TestResolveIdentities_Overrides(t *testing.T) {
	p := &mockPipeline{}
	want := identity.Options{Domains: []string{"other.example"}, DryRun: true}
	p.On("ResolveIdentities", mock.Anything, want).Return(schema.ResolveSummary{RunID: "run-2", DryRun: true}, nil)

	res := call(t, p, "resolve_identities", map[string]any{"domains": "@Other.Example", "dry_run": true})
	assert.False(t, res.IsError)
	p.AssertExpectations(t)
}

func TestListUnmatchedAuthors_DefaultsToConfig(t *testing.T) {
	p := &mockPipeline{}
	p.On("UnmatchedAuthors", mock.Anything, identity.Options{Domains: []string{"corp.example"}}).
		Return([]schema.UnmatchedAuthor{{Name: "Ghost", Commits: 5, Reason: "no-match"}}, nil)

	res := call(t, p, "list_unmatched_authors", map[string]any{})
	require.False(t, res.IsError)
	var authors []schema.UnmatchedAuthor
	require.NoError(t, json.Unmarshal([]byte(text(res)), &authors))
	assert.Equal(t, "Ghost", authors[0].Name)
}

func TestAggregateMetrics(t *testing.T) {
	p := &mockPipeline{}
	p.On("Aggregate", mock.Anything, aggregate.Options{Scope: schema.TeamScope, Force: true}).
		Return(schema.AggregateSummary{RunID: "run-3", Force: true}, nil)

	res := call(t, p, "aggregate_metrics", map[string]any{"scope": "team", "force": true})
	assert.False(t, res.IsError)
	p.AssertExpectations(t)

	res = call(t, &mockPipeline{}, "aggregate_metrics", map[string]any{"scope": "weekly"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "invalid scope")
}

func TestRollupLookups(t *testing.T) {
	p := &mockPipeline{}
	p.On("Rollup", mock.Anything, schema.StaffScope, []string{"S7"}).
		Return(&schema.StaffRollup{StaffID: "S7", Unit: "Payments"}, nil)
	p.On("Rollup", mock.Anything, schema.TeamScope, []string{"Nowhere"}).
		Return(nil, errors.New("rollup not found"))

	res := call(t, p, "get_staff_rollup", map[string]any{"staff_id": " S7 "})
	require.False(t, res.IsError)
	assert.Contains(t, text(res), `"unit": "Payments"`)

	res = call(t, p, "get_team_rollup", map[string]any{"unit": "Nowhere"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "rollup not found")

	res = call(t, p, "get_staff_rollup", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "staff_id is required")
}

func TestPipelineErrorsBecomeToolErrors(t *testing.T) {
	p := &mockPipeline{}
	p.On("ResolveIdentities", mock.Anything, mock.Anything).Return(schema.ResolveSummary{}, errors.New("db gone"))

	res := call(t, p, "resolve_identities", map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(res), "db gone")
}
