package cmd

import (
	"errors"

	"github.com/huangsam/orgpulse/internal/contract"
	"github.com/huangsam/orgpulse/internal/outwriter"
	"github.com/spf13/cobra"
)

// extractCmd ingests repository history into the raw tables.
var extractCmd = &cobra.Command{
	Use:   "extract [LOCATOR...]",
	Short: "Ingest commits, pull requests and approvals from repositories",
	Long: `Clone each repository (or open a local directory in place), walk the history of
its default branch and store every commit with its diff statistics.

Pull requests come from the hosted platform API when --use-api is set and the API
answers. Otherwise they are recovered from merge commit messages with an ordered
set of patterns. Approvals come from the API or from "Approved-by:" trailers.

Re-running over the same repository only inserts history that is new. A failing
repository is reported and the batch continues.

Examples:
  # Extract a local checkout and a remote repository
  orgpulse extract ~/src/orders https://git.example.com/scm/cg/billing.git

  # Extract a list of repositories four at a time
  orgpulse extract --repos-file repos.txt --workers 4

  # Prefer the Bitbucket Server API for pull requests
  ORGPULSE_API_TOKEN=... orgpulse extract --use-api --api-url https://git.example.com cg/orders`,
	PreRunE: extractSetupWrapper,
	Run: func(_ *cobra.Command, _ []string) {
		summary, err := pipeline.Extract(rootCtx, cfg.Extract.Locators)
		if err != nil {
			contract.LogFatal("Failed to extract repositories", err)
		}
		if err := outwriter.NewOutWriter(cfg).WriteExtract(summary); err != nil {
			contract.LogFatal("Failed to write extraction summary", err)
		}
		if len(summary.Repositories) > 0 && len(summary.Failed()) == len(summary.Repositories) {
			contract.LogFatal("Extraction failed", errors.New("no repository could be extracted"))
		}
	},
}
