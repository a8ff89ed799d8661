package cmd

import (
	"github.com/huangsam/orgpulse/internal/mcp"
	"github.com/spf13/cobra"
)

// mcpCmd represents the mcp command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the OrgPulse MCP server",
	Long: `Launch an MCP server over stdio that lets AI agents extract repositories, resolve
identities, aggregate metrics and look up staff and team rollups.

Logs go to stderr; stdout carries the protocol.`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		return mcp.StartMCPServer(rootCtx, cfg, pipeline)
	},
}
