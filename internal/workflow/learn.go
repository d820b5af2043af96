package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/metrics"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/testrunner"
)

// LearnOptions configures one learn run. Paths are absolute or relative to
// the working directory.
type LearnOptions struct {
	// Root is the project root coverage paths are made relative to.
	Root         string
	CoveragePath string
	ResultsPath  string
	// SkipRun reuses artifacts from an earlier jest run.
	SkipRun bool
	// Reset clears every link before relinking.
	Reset bool
}

// LearnReport describes a learn run.
type LearnReport struct {
	RunID           string `yaml:"run_id" json:"run_id"`
	Commit          string `yaml:"commit,omitempty" json:"commit,omitempty"`
	TestsDiscovered int    `yaml:"tests_discovered" json:"tests_discovered"`
	// SuitePassed is unset when the suite was not run.
	SuitePassed  *bool  `yaml:"suite_passed,omitempty" json:"suite_passed,omitempty"`
	LinksCleared int64  `yaml:"links_cleared,omitempty" json:"links_cleared,omitempty"`
	Snapshot     string `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`

	coverage.LearnResult `yaml:",inline" json:",inline"`

	Duration time.Duration `yaml:"duration" json:"duration"`
}

// LearnWorkflow runs the suite with coverage and stores the links.
type LearnWorkflow struct {
	vcs     VCS
	runner  Runner
	store   store.GraphStore
	learner *coverage.Learner
	logger  *slog.Logger
	metrics *metrics.Recorder
	runID   string
}

// LearnOption configures a LearnWorkflow.
type LearnOption func(*LearnWorkflow)

// WithLearnLogger sets the logger.
func WithLearnLogger(l *slog.Logger) LearnOption {
	return func(w *LearnWorkflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithLearnMetrics records run metrics into r.
func WithLearnMetrics(r *metrics.Recorder) LearnOption {
	return func(w *LearnWorkflow) { w.metrics = r }
}

// WithLearnRunID sets the run id echoed in the report.
func WithLearnRunID(id string) LearnOption {
	return func(w *LearnWorkflow) { w.runID = id }
}

// NewLearnWorkflow wires a learn workflow. runner may be nil when every
// run uses SkipRun.
func NewLearnWorkflow(vcs VCS, runner Runner, st store.GraphStore, learner *coverage.Learner, opts ...LearnOption) *LearnWorkflow {
	w := &LearnWorkflow{
		vcs:     vcs,
		runner:  runner,
		store:   st,
		learner: learner,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.runID == "" {
		w.runID = NewRunID()
	}
	return w
}

// Run executes the learn sequence. Missing or malformed artifacts are
// fatal and leave the graph untouched; a failing suite and an unknown
// commit are not.
func (w *LearnWorkflow) Run(ctx context.Context, opts LearnOptions) (*LearnReport, error) {
	start := time.Now()
	logger := w.logger.With("run_id", w.runID)
	report := &LearnReport{RunID: w.runID}

	if !opts.SkipRun {
		if w.runner == nil {
			return nil, fmt.Errorf("no test runner configured")
		}
		result, err := w.runner.Run(ctx, testrunner.Request{
			Coverage:    true,
			CoverageDir: filepath.Dir(opts.CoveragePath),
			ResultsPath: opts.ResultsPath,
		})
		if err != nil {
			return nil, fmt.Errorf("run tests with coverage: %w", err)
		}
		passed := result.Success
		report.SuitePassed = &passed
		if !passed {
			logger.Warn("some tests failed, continuing with coverage", "exit_code", result.ExitCode)
		}
	}

	snap, err := coverage.ParseSnapshotFile(opts.CoveragePath, opts.Root)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}
	tests, err := coverage.ParseTestResultsFile(opts.ResultsPath, opts.Root)
	if err != nil {
		return nil, fmt.Errorf("test results: %w", err)
	}
	report.TestsDiscovered = len(tests)
	logger.Info("parsed artifacts", "files", len(snap.Files), "tests", len(tests))
	if len(tests) == 0 {
		logger.Warn("no tests discovered, nothing will be linked")
	}

	commit, err := w.vcs.CurrentCommit(ctx)
	if err != nil {
		logger.Warn("could not resolve commit, storing functions without provenance", "error", err)
		commit = ""
	}
	report.Commit = commit

	err = w.store.WithinTx(ctx, func(g store.Graph) error {
		if opts.Reset {
			cleared, err := g.ClearAllLinks(ctx)
			if err != nil {
				return fmt.Errorf("reset links: %w", err)
			}
			report.LinksCleared = cleared
		}
		result, err := w.learner.Learn(ctx, g, snap, tests, commit)
		if err != nil {
			return err
		}
		report.LearnResult = *result
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("learn: %w", err)
	}

	snapshot, err := w.store.Snapshot(ctx, strings.TrimSpace("buildlens learn "+shortHash(commit)))
	if err != nil {
		logger.Warn("could not snapshot graph", "error", err)
	}
	report.Snapshot = snapshot

	report.Duration = time.Since(start)
	w.metrics.ObserveLearn(report.FunctionsUpserted, report.LinksCreated)
	w.metrics.ObservePhase("learn", report.Duration)
	logger.Info("learn complete",
		"functions", report.FunctionsUpserted,
		"tests", report.TestsUpserted,
		"links_created", report.LinksCreated,
		"links_existing", report.LinksExisting)
	return report, nil
}
