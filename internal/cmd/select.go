package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/config"
	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/extract"
	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/testrunner"
	"github.com/buildlens/buildlens/internal/workflow"
)

// selectCmd represents the select command
var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Run the tests impacted by changes since a base ref",
	Long: `Diff the working tree's HEAD against a base ref, find the functions whose
lines changed and run only the test files linked to them.

The full suite runs instead when no source file changed, when nothing
learned is impacted (unless --no-fallback), or when git or jest fail. In
the failure cases the original error is still returned after the run.

The base ref is taken from --base, then GITHUB_BASE_REF, then BASE_BRANCH,
then diff.base_ref in the config, then "main".

Match modes (--match, select.match):
  exact    stored function must have the same name and line span
  overlap  stored function span overlaps the changed function (default)
  file     every stored function in a changed file

Examples:
  buildlens select                       # Against the configured base
  buildlens select -b origin/main        # Explicit base ref
  buildlens select --dry-run --format json
  buildlens select --no-fallback         # Run nothing when nothing matched`,
	Args: cobra.NoArgs,
	RunE: runSelect,
}

var (
	selectBase       string
	selectHead       string
	selectMatch      string
	selectNoFallback bool
	selectDryRun     bool
)

func init() {
	rootCmd.AddCommand(selectCmd)

	selectCmd.Flags().StringVarP(&selectBase, "base", "b", "", "Base ref to diff against")
	selectCmd.Flags().StringVar(&selectHead, "head", "", "Head ref (default: HEAD)")
	selectCmd.Flags().StringVar(&selectMatch, "match", "", "Match mode: exact, overlap, file (default: select.match)")
	selectCmd.Flags().BoolVar(&selectNoFallback, "no-fallback", false, "Do not run the full suite when no test is impacted")
	selectCmd.Flags().BoolVar(&selectDryRun, "dry-run", false, "Report the selection without running tests")
}

func runSelect(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg

	mode, err := workflow.ParseMatchMode(firstSet(selectMatch, cfg.Select.Match))
	if err != nil {
		return err
	}

	analyzer, err := extract.NewAnalyzer(cfg.Root, extract.DefaultCacheSize, s.logger)
	if err != nil {
		return err
	}
	resolver := impact.NewResolver(analyzer,
		impact.WithLogger(s.logger),
		impact.WithConcurrency(cfg.Select.Concurrency))
	runner, err := testrunner.NewJest(cfg.Runner.Command, cfg.Root,
		testrunner.WithOutput(os.Stderr, os.Stderr),
		testrunner.WithTimeout(cfg.Runner.Timeout),
		testrunner.WithLogger(s.logger))
	if err != nil {
		return err
	}

	flow := workflow.NewSelectWorkflow(diff.NewGitDiff(cfg.Root), runner, resolver, s.store,
		workflow.WithSelectLogger(s.logger),
		workflow.WithSelectMetrics(s.metrics),
		workflow.WithSelectRunID(s.runID))

	report, runErr := flow.Run(cmd.Context(), workflow.SelectOptions{
		BaseRef:       config.ResolveBaseRef(selectBase, cfg, os.Getenv),
		HeadRef:       firstSet(selectHead, cfg.Diff.HeadRef),
		Extensions:    cfg.Diff.Extensions,
		Match:         mode,
		FallbackToAll: cfg.Select.FallbackToAll && !selectNoFallback,
		DryRun:        selectDryRun,
	})
	s.logger.Debug("declaration cache", "files", analyzer.CachedFiles())
	if report != nil {
		if err := writeReport(cmd, report); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}
