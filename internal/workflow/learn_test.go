package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/logging"
	"github.com/buildlens/buildlens/internal/metrics"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/testrunner"
)

const createUserCoverage = `{
  "ROOT/src/user.service.ts": {
    "path": "ROOT/src/user.service.ts",
    "fnMap": {
      "0": {"name": "createUser", "decl": {"start": {"line": 10, "column": 2}, "end": {"line": 20, "column": 3}}}
    },
    "f": {"0": 1}
  }
}`

const createUserResults = `{
  "success": true,
  "testResults": [
    {
      "name": "ROOT/src/user.service.spec.ts",
      "assertionResults": [
        {"ancestorTitles": ["UserService"], "title": "should create a user", "status": "passed"}
      ]
    }
  ]
}`

type learnFixture struct {
	root   string
	opts   LearnOptions
	store  *store.Store
	vcs    *fakeVCS
	runner *fakeRunner
	rec    *metrics.Recorder
	flow   *LearnWorkflow
}

func newLearnFixture(t *testing.T) *learnFixture {
	t.Helper()
	root := t.TempDir()
	f := &learnFixture{
		root: root,
		opts: LearnOptions{
			Root:         root,
			CoveragePath: filepath.Join(root, "coverage", "coverage-final.json"),
			ResultsPath:  filepath.Join(root, ".buildlens", "test-results.json"),
		},
		store:  openStore(t),
		vcs:    &fakeVCS{commit: "0123456789abcdef"},
		runner: &fakeRunner{},
		rec:    metrics.NewRecorder(),
	}
	learner := coverage.NewLearner(nil, logging.NewDiscardLogger())
	f.flow = NewLearnWorkflow(f.vcs, f.runner, f.store, learner,
		WithLearnLogger(logging.NewDiscardLogger()),
		WithLearnMetrics(f.rec),
		WithLearnRunID("learn-1"))
	return f
}

func (f *learnFixture) writeArtifacts(t *testing.T, coverageJSON, resultsJSON string) {
	t.Helper()
	write := func(path, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(content, "ROOT", filepath.ToSlash(f.root))), 0644))
	}
	write(f.opts.CoveragePath, coverageJSON)
	write(f.opts.ResultsPath, resultsJSON)
}

func TestLearn_SingleFunctionSingleTest(t *testing.T) {
	ctx := context.Background()
	f := newLearnFixture(t)
	f.writeArtifacts(t, createUserCoverage, createUserResults)
	f.opts.SkipRun = true

	report, err := f.flow.Run(ctx, f.opts)
	require.NoError(t, err)

	assert.Equal(t, "learn-1", report.RunID)
	assert.Equal(t, "0123456789abcdef", report.Commit)
	assert.Equal(t, 1, report.TestsDiscovered)
	assert.Nil(t, report.SuitePassed, "suite was not run")
	assert.Equal(t, 1, report.FunctionsUpserted)
	assert.Equal(t, 1, report.TestsUpserted)
	assert.Equal(t, 1, report.LinksCreated)
	assert.Empty(t, report.Snapshot, "sqlite has no snapshots")
	assert.Empty(t, f.runner.requests)

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &store.Stats{Tests: 1, Functions: 1, Links: 1}, stats)

	fn, err := f.store.GetFunction(ctx, store.FunctionKey{FilePath: "src/user.service.ts", Name: "createUser", StartLine: 10, EndLine: 20})
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", fn.CommitHash)
	test, err := f.store.GetTest(ctx, "src/user.service.spec.ts", "UserService > should create a user")
	require.NoError(t, err)
	linked, err := f.store.GetFunctionsForTest(ctx, test.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, fn.ID, linked[0].ID)
}

func TestLearn_RunsJestWithCoverage(t *testing.T) {
	f := newLearnFixture(t)
	f.runner.onRun = func(req testrunner.Request) {
		f.writeArtifacts(t, createUserCoverage, createUserResults)
	}
	f.runner.results = []*testrunner.Result{{Success: false, ExitCode: 1}}

	report, err := f.flow.Run(context.Background(), f.opts)
	require.NoError(t, err, "a failing suite still yields coverage")

	require.Len(t, f.runner.requests, 1)
	req := f.runner.requests[0]
	assert.True(t, req.Coverage)
	assert.Equal(t, filepath.Join(f.root, "coverage"), req.CoverageDir)
	assert.Equal(t, f.opts.ResultsPath, req.ResultsPath)
	assert.Empty(t, req.Files)

	require.NotNil(t, report.SuitePassed)
	assert.False(t, *report.SuitePassed)
	assert.Equal(t, 1, report.LinksCreated)
}

func TestLearn_RunnerErrorIsFatal(t *testing.T) {
	errSpawn := errors.New("npx: not found")
	f := newLearnFixture(t)
	f.runner.errs = []error{errSpawn}

	_, err := f.flow.Run(context.Background(), f.opts)
	assert.ErrorIs(t, err, errSpawn)
}

func TestLearn_BadArtifactsLeaveGraphUntouched(t *testing.T) {
	tests := []struct {
		name     string
		coverage string
		results  string
		missing  bool
		wantErr  error
	}{
		{name: "missing coverage", missing: true, wantErr: os.ErrNotExist},
		{name: "malformed coverage", coverage: "{", results: createUserResults, wantErr: coverage.ErrMalformedSnapshot},
		{name: "malformed results", coverage: createUserCoverage, results: "PASS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newLearnFixture(t)
			if !tt.missing {
				f.writeArtifacts(t, tt.coverage, tt.results)
			}
			f.opts.SkipRun = true

			report, err := f.flow.Run(ctx, f.opts)
			require.Error(t, err)
			assert.Nil(t, report)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			stats, err := f.store.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, &store.Stats{}, stats)
		})
	}
}

func TestLearn_UnknownCommitDegrades(t *testing.T) {
	ctx := context.Background()
	f := newLearnFixture(t)
	f.writeArtifacts(t, createUserCoverage, createUserResults)
	f.opts.SkipRun = true
	f.vcs.commitErr = errors.New("not a git repository")

	report, err := f.flow.Run(ctx, f.opts)
	require.NoError(t, err)
	assert.Empty(t, report.Commit)

	fn, err := f.store.GetFunction(ctx, store.FunctionKey{FilePath: "src/user.service.ts", Name: "createUser", StartLine: 10, EndLine: 20})
	require.NoError(t, err)
	assert.Empty(t, fn.CommitHash)
}

func TestLearn_ResetClearsOldLinks(t *testing.T) {
	ctx := context.Background()
	f := newLearnFixture(t)
	seedLink(t, f.store, store.FunctionKey{FilePath: "src/gone.ts", Name: "gone", StartLine: 1, EndLine: 2}, "src/gone.spec.ts", "gone")
	f.writeArtifacts(t, createUserCoverage, createUserResults)
	f.opts.SkipRun = true

	f.opts.Reset = false
	report, err := f.flow.Run(ctx, f.opts)
	require.NoError(t, err)
	assert.Zero(t, report.LinksCleared)
	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Links, "links accumulate without reset")

	f.opts.Reset = true
	report, err = f.flow.Run(ctx, f.opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.LinksCleared)
	assert.Equal(t, 1, report.LinksCreated)
	stats, err = f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Links)
}

func TestLearn_RelearnIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newLearnFixture(t)
	f.writeArtifacts(t, createUserCoverage, createUserResults)
	f.opts.SkipRun = true

	_, err := f.flow.Run(ctx, f.opts)
	require.NoError(t, err)
	report, err := f.flow.Run(ctx, f.opts)
	require.NoError(t, err)

	assert.Zero(t, report.LinksCreated)
	assert.Equal(t, 1, report.LinksExisting)
	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &store.Stats{Tests: 1, Functions: 1, Links: 1}, stats)
}
