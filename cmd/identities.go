package cmd

import (
	"github.com/huangsam/orgpulse/core/identity"
	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/outwriter"
	"github.com/spf13/cobra"
)

// identitiesCmd groups identity resolution commands.
var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Link raw commit authors to staff records",
	Long: `Manage the mapping between author names seen in commits and staff records.

Two strategies run in order for every author:
  exact-email      the author's email equals a staff email
  username-domain  the part before '@' matches a staff email whose domain is recognized

Only active staff are candidates. An author with several candidates is left unmatched.

Subcommands:
  resolve    - Run the strategies and persist (or preview) mappings
  map        - Create a manual mapping
  unmatched  - List authors that need a manual mapping`,
}

// identitiesResolveCmd runs the matching strategies.
var identitiesResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Match unmapped authors to staff records",
	Long: `Evaluate every author that has no mapping yet and write a mapping for each match.

With --dry-run nothing is written and the summary shows what would change.
With --rematch existing automatic mappings are evaluated again. Manual mappings
are never replaced.

Examples:
  # Preview matches for the corporate domain
  orgpulse identities resolve --domains corp.example --dry-run

  # Persist matches
  orgpulse identities resolve --domains corp.example,corp-legacy.example`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		summary, err := pipeline.ResolveIdentities(rootCtx, identity.OptionsFromConfig(cfg))
		if err != nil {
			contract.LogFatal("Failed to resolve identities", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteResolve(summary); err != nil {
			contract.LogFatal("Failed to write resolution summary", err)
		}
	},
}

// identitiesMapCmd stores an operator-chosen mapping.
var identitiesMapCmd = &cobra.Command{
	Use:   "map AUTHOR_NAME STAFF_ID",
	Short: "Map an author to a staff record by hand",
	Long: `Create or replace the mapping of one author name. The staff record must exist
and be active. Manual mappings are kept by every later resolve run.

Examples:
  orgpulse identities map "Jane Doe" S7`,
	Args:    cobra.ExactArgs(2),
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, args []string) {
		m, err := pipeline.MapIdentity(rootCtx, args[0], args[1])
		if err != nil {
			contract.LogFatal("Failed to map identity", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteMapping(m); err != nil {
			contract.LogFatal("Failed to write mapping", err)
		}
	},
}

// identitiesUnmatchedCmd lists authors for manual review.
var identitiesUnmatchedCmd = &cobra.Command{
	Use:   "unmatched",
	Short: "List authors no strategy could match",
	Long: `Run the strategies without writing anything and list the authors left over,
ordered by commit count, with the reason they were not matched.

Examples:
  orgpulse identities unmatched --domains corp.example --output json`,
	PreRunE: sharedSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		authors, err := pipeline.UnmatchedAuthors(rootCtx, identity.OptionsFromConfig(cfg))
		if err != nil {
			contract.LogFatal("Failed to list unmatched authors", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteUnmatched(authors); err != nil {
			contract.LogFatal("Failed to write unmatched authors", err)
		}
	},
}
