package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/metrics"
	"github.com/buildlens/buildlens/internal/output"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/testrunner"
)

// Selection modes reported in SelectReport.Mode.
const (
	ModeSelected = "selected"
	ModeAll      = "all"
	ModeNone     = "none"
)

// SelectOptions configures one select run.
type SelectOptions struct {
	BaseRef    string
	HeadRef    string
	Extensions []string
	Match      MatchMode
	// FallbackToAll runs the whole suite when no test is impacted.
	FallbackToAll bool
	// DryRun reports the selection without running anything.
	DryRun bool
}

// SelectReport describes a select run.
type SelectReport struct {
	RunID            string           `yaml:"run_id" json:"run_id"`
	BaseRef          string           `yaml:"base_ref" json:"base_ref"`
	HeadRef          string           `yaml:"head_ref,omitempty" json:"head_ref,omitempty"`
	Match            MatchMode        `yaml:"match" json:"match"`
	ChangedFiles     []string         `yaml:"changed_files" json:"changed_files"`
	ChangedFunctions []string         `yaml:"changed_functions" json:"changed_functions"`
	FallbackFiles    []string         `yaml:"fallback_files,omitempty" json:"fallback_files,omitempty"`
	MatchedFunctions int              `yaml:"matched_functions" json:"matched_functions"`
	ImpactedTests    []string         `yaml:"impacted_tests" json:"impacted_tests"`
	TestFiles        []string         `yaml:"test_files" json:"test_files"`
	Mode             string           `yaml:"mode" json:"mode"`
	Reason           string           `yaml:"reason,omitempty" json:"reason,omitempty"`
	DryRun           bool             `yaml:"dry_run" json:"dry_run"`
	Executed         bool             `yaml:"executed" json:"executed"`
	Passed           *bool            `yaml:"passed,omitempty" json:"passed,omitempty"`
	Warnings         []impact.Warning `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Duration         time.Duration    `yaml:"duration" json:"duration"`
}

// SelectWorkflow picks and runs the tests impacted by a diff.
type SelectWorkflow struct {
	vcs      VCS
	runner   Runner
	resolver *impact.Resolver
	graph    store.Graph
	logger   *slog.Logger
	metrics  *metrics.Recorder
	runID    string
}

// SelectOption configures a SelectWorkflow.
type SelectOption func(*SelectWorkflow)

// WithSelectLogger sets the logger.
func WithSelectLogger(l *slog.Logger) SelectOption {
	return func(w *SelectWorkflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithSelectMetrics records run metrics into r.
func WithSelectMetrics(r *metrics.Recorder) SelectOption {
	return func(w *SelectWorkflow) { w.metrics = r }
}

// WithSelectRunID sets the run id echoed in the report.
func WithSelectRunID(id string) SelectOption {
	return func(w *SelectWorkflow) { w.runID = id }
}

// NewSelectWorkflow wires a select workflow.
func NewSelectWorkflow(vcs VCS, runner Runner, resolver *impact.Resolver, graph store.Graph, opts ...SelectOption) *SelectWorkflow {
	w := &SelectWorkflow{
		vcs:      vcs,
		runner:   runner,
		resolver: resolver,
		graph:    graph,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.runID == "" {
		w.runID = NewRunID()
	}
	return w
}

// Run selects the impacted tests and, unless DryRun is set, runs them.
//
// Any failure after the run starts falls back to the full suite before the
// error is returned, so a broken collaborator never results in no tests.
// A completed run with failing tests returns the report and ErrTestsFailed.
func (w *SelectWorkflow) Run(ctx context.Context, opts SelectOptions) (*SelectReport, error) {
	start := time.Now()
	if opts.Match == "" {
		opts.Match = MatchOverlap
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = diff.DefaultExtensions
	}

	report := &SelectReport{
		RunID:            w.runID,
		BaseRef:          opts.BaseRef,
		HeadRef:          opts.HeadRef,
		Match:            opts.Match,
		ChangedFiles:     []string{},
		ChangedFunctions: []string{},
		ImpactedTests:    []string{},
		TestFiles:        []string{},
		DryRun:           opts.DryRun,
	}
	defer func() {
		report.Duration = time.Since(start)
		w.metrics.ObservePhase("select", report.Duration)
	}()

	logger := w.logger.With("run_id", w.runID)
	logger.Info("comparing against base", "base", opts.BaseRef, "head", opts.HeadRef)

	changed, err := w.vcs.ChangedFiles(ctx, opts.BaseRef, opts.HeadRef)
	if err != nil {
		return w.failSafe(ctx, report, opts, metrics.ReasonVCSError, fmt.Errorf("changed files: %w", err))
	}
	files := diff.FilterSource(changed, opts.Extensions)
	for _, f := range files {
		report.ChangedFiles = append(report.ChangedFiles, f.Path)
		logger.Debug("changed file", "path", f.Path, "status", diff.StatusDescription(f.Status), "ranges", len(f.Changes))
	}

	if len(files) == 0 {
		logger.Info("no source files changed, running all tests")
		w.metrics.ObserveSelection(0, 0, 0, 0)
		return w.runAll(ctx, report, opts, metrics.ReasonNoChanges, "no source files changed")
	}

	resolution, err := w.resolver.Resolve(ctx, impact.FromDiff(files))
	if err != nil {
		return nil, err
	}
	for _, k := range resolution.Functions {
		report.ChangedFunctions = append(report.ChangedFunctions, k.String())
	}
	report.FallbackFiles = resolution.FallbackFiles
	report.Warnings = resolution.Warnings
	logger.Info("resolved changed functions", "files", len(files), "functions", len(resolution.Functions))

	ids, err := w.matchFunctions(ctx, opts.Match, resolution.Functions, deletedPaths(files))
	if err != nil {
		return w.failSafe(ctx, report, opts, metrics.ReasonStoreError, err)
	}
	report.MatchedFunctions = len(ids)

	tests, err := w.graph.GetTestsForFunctions(ctx, ids)
	if err != nil {
		return w.failSafe(ctx, report, opts, metrics.ReasonStoreError, fmt.Errorf("impacted tests: %w", err))
	}
	for _, t := range tests {
		report.ImpactedTests = append(report.ImpactedTests, output.TestID(t))
	}
	w.metrics.ObserveSelection(len(files), len(resolution.Functions), len(tests), w.knownTests(ctx))
	logger.Info("impacted tests", "tests", len(tests), "matched_functions", len(ids))

	if len(tests) == 0 {
		if !opts.FallbackToAll {
			logger.Warn("no learned tests for changed functions")
			report.Mode = ModeNone
			report.Reason = "no impacted tests"
			return report, nil
		}
		logger.Warn("no learned tests for changed functions, running all tests")
		return w.runAll(ctx, report, opts, metrics.ReasonNoImpacted, "no impacted tests")
	}

	report.Mode = ModeSelected
	report.TestFiles = output.UniqueTestFiles(tests)
	if opts.DryRun {
		return report, nil
	}

	result, err := w.runner.Run(ctx, testrunner.Request{Files: report.TestFiles})
	if err != nil {
		return w.failSafe(ctx, report, opts, metrics.ReasonRunnerError, fmt.Errorf("run selected tests: %w", err))
	}
	return finish(report, result)
}

// matchFunctions maps changed functions to stored function ids. Every
// stored function of a deleted file is included whatever the mode.
func (w *SelectWorkflow) matchFunctions(ctx context.Context, mode MatchMode, keys []impact.ChangedFunctionKey, deleted []string) ([]int64, error) {
	seen := make(map[int64]bool)
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if len(deleted) > 0 {
		fns, err := w.graph.GetFunctionsByFilePaths(ctx, deleted)
		if err != nil {
			return nil, fmt.Errorf("functions of deleted files: %w", err)
		}
		for _, fn := range fns {
			add(fn.ID)
		}
	}

	if mode == MatchExact {
		for _, k := range keys {
			fn, err := w.graph.GetFunction(ctx, store.FunctionKey{
				FilePath:  k.FilePath,
				Name:      k.Name,
				StartLine: k.StartLine,
				EndLine:   k.EndLine,
			})
			if errors.Is(err, store.ErrNotFound) {
				w.logger.Debug("function not learned", "function", k.String())
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("lookup %s: %w", k, err)
			}
			add(fn.ID)
		}
		return ids, nil
	}

	byFile := make(map[string][]impact.ChangedFunctionKey)
	var paths []string
	for _, k := range keys {
		if _, ok := byFile[k.FilePath]; !ok {
			paths = append(paths, k.FilePath)
		}
		byFile[k.FilePath] = append(byFile[k.FilePath], k)
	}
	if len(paths) == 0 {
		return ids, nil
	}
	sort.Strings(paths)

	stored, err := w.graph.GetFunctionsByFilePaths(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("functions of changed files: %w", err)
	}
	for _, fn := range stored {
		if mode == MatchFile {
			add(fn.ID)
			continue
		}
		for _, k := range byFile[fn.FilePath] {
			if impact.Overlaps(fn.StartLine, fn.EndLine, k.StartLine, k.EndLine) {
				add(fn.ID)
				break
			}
		}
	}
	return ids, nil
}

func (w *SelectWorkflow) knownTests(ctx context.Context) int {
	stats, err := w.graph.Stats(ctx)
	if err != nil {
		w.logger.Debug("stats unavailable", "error", err)
		return 0
	}
	return stats.Tests
}

// runAll runs the full suite unless this is a dry run.
func (w *SelectWorkflow) runAll(ctx context.Context, report *SelectReport, opts SelectOptions, reason, why string) (*SelectReport, error) {
	report.Mode = ModeAll
	report.Reason = why
	w.metrics.Fallback(reason)
	if opts.DryRun {
		return report, nil
	}

	result, err := w.runner.Run(ctx, testrunner.Request{})
	if err != nil {
		return report, fmt.Errorf("run all tests: %w", err)
	}
	return finish(report, result)
}

// failSafe runs the full suite after a collaborator failure and returns
// the original error.
func (w *SelectWorkflow) failSafe(ctx context.Context, report *SelectReport, opts SelectOptions, reason string, cause error) (*SelectReport, error) {
	if ctx.Err() != nil {
		return report, cause
	}
	w.logger.Error("select failed, running all tests", "run_id", w.runID, "error", cause)
	report.TestFiles = []string{}

	if _, err := w.runAll(ctx, report, opts, reason, cause.Error()); err != nil && !errors.Is(err, ErrTestsFailed) {
		w.logger.Error("full suite fallback failed", "run_id", w.runID, "error", err)
	}
	return report, cause
}

func finish(report *SelectReport, result *testrunner.Result) (*SelectReport, error) {
	report.Executed = true
	passed := result.Success
	report.Passed = &passed
	if !passed {
		return report, fmt.Errorf("%w: exit code %d", ErrTestsFailed, result.ExitCode)
	}
	return report, nil
}

func deletedPaths(files []diff.FileDiff) []string {
	var paths []string
	for _, f := range files {
		if f.Status == "D" {
			paths = append(paths, f.Path)
		}
	}
	return paths
}
