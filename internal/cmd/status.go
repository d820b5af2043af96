package cmd

import (
	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/workflow"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show graph counts and unlearned test files",
	Long: `Show the store backend, the number of learned tests, functions and links,
and which test files in the project have no learned tests yet.

Examples:
  buildlens status
  buildlens status --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	matcher := coverage.NewTestFileMatcher(s.cfg.Learn.TestFilePatterns)
	out, err := workflow.Status(cmd.Context(), s.store, s.cfg.Root, matcher)
	if err != nil {
		return err
	}
	return writeReport(cmd, out)
}
