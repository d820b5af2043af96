package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/testrunner"
	"github.com/buildlens/buildlens/internal/workflow"
)

// learnCmd represents the learn command
var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run the suite with coverage and record test/function links",
	Long: `Run jest with coverage and link every discovered test to the functions the
run executed.

Links are file-grained: a test is linked to every function covered anywhere
in the run that included its file. Everything for one run is written in a
single transaction, so a failed learn never leaves a partial graph.

A failing suite is reported but still learned from. Missing or malformed
coverage is an error.

Examples:
  buildlens learn                                  # Run jest, then learn
  buildlens learn --skip-run                       # Reuse existing artifacts
  buildlens learn -c coverage/coverage-final.json  # Explicit coverage file
  buildlens learn --reset                          # Drop old links first`,
	Args: cobra.NoArgs,
	RunE: runLearn,
}

var (
	learnCoverage string
	learnResults  string
	learnSkipRun  bool
	learnReset    bool
)

func init() {
	rootCmd.AddCommand(learnCmd)

	learnCmd.Flags().StringVarP(&learnCoverage, "coverage", "c", "", "Istanbul coverage-final.json (default: learn.coverage_path)")
	learnCmd.Flags().StringVar(&learnResults, "results", "", "Jest --json results file (default: learn.results_path)")
	learnCmd.Flags().BoolVar(&learnSkipRun, "skip-run", false, "Do not run jest; read the artifacts of an earlier run")
	learnCmd.Flags().BoolVar(&learnReset, "reset", false, "Clear all links before relinking")
}

func runLearn(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	cfg := s.cfg

	runner, err := testrunner.NewJest(cfg.Runner.Command, cfg.Root,
		testrunner.WithOutput(os.Stderr, os.Stderr),
		testrunner.WithTimeout(cfg.Runner.Timeout),
		testrunner.WithLogger(s.logger))
	if err != nil {
		return err
	}
	learner := coverage.NewLearner(coverage.NewTestFileMatcher(cfg.Learn.TestFilePatterns), s.logger)

	flow := workflow.NewLearnWorkflow(diff.NewGitDiff(cfg.Root), runner, s.store, learner,
		workflow.WithLearnLogger(s.logger),
		workflow.WithLearnMetrics(s.metrics),
		workflow.WithLearnRunID(s.runID))

	report, err := flow.Run(cmd.Context(), workflow.LearnOptions{
		Root:         cfg.Root,
		CoveragePath: cfg.Resolve(firstSet(learnCoverage, cfg.Learn.CoveragePath)),
		ResultsPath:  cfg.Resolve(firstSet(learnResults, cfg.Learn.ResultsPath)),
		SkipRun:      learnSkipRun,
		Reset:        learnReset || cfg.Learn.Reset,
	})
	if err != nil {
		return err
	}
	return writeReport(cmd, report)
}

func firstSet(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}
