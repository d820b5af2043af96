package workflow

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/impact"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/testrunner"
)

type fakeVCS struct {
	files     []diff.FileDiff
	err       error
	commit    string
	commitErr error
}

func (v *fakeVCS) ChangedFiles(ctx context.Context, base, head string) ([]diff.FileDiff, error) {
	return v.files, v.err
}

func (v *fakeVCS) CurrentCommit(ctx context.Context) (string, error) {
	return v.commit, v.commitErr
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []testrunner.Request
	results  []*testrunner.Result
	errs     []error
	onRun    func(req testrunner.Request)
}

func (r *fakeRunner) Run(ctx context.Context, req testrunner.Request) (*testrunner.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.requests)
	r.requests = append(r.requests, req)
	if r.onRun != nil {
		r.onRun(req)
	}
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	if i < len(r.results) {
		return r.results[i], nil
	}
	return &testrunner.Result{Success: true, All: len(req.Files) == 0, Files: req.Files}, nil
}

type fakeProvider map[string][]impact.Declaration

func (p fakeProvider) Declarations(ctx context.Context, path string) ([]impact.Declaration, error) {
	return p[path], nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{
		Backend: store.SQLite,
		Path:    filepath.Join(t.TempDir(), "graph.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedLink stores a function and a test linked to it.
func seedLink(t *testing.T, g store.Graph, key store.FunctionKey, testFile, testName string) {
	t.Helper()
	ctx := context.Background()
	fn, err := g.UpsertFunction(ctx, key, "")
	require.NoError(t, err)
	test, err := g.UpsertTest(ctx, testFile, testName)
	require.NoError(t, err)
	_, _, err = g.CreateLink(ctx, test.ID, fn.ID)
	require.NoError(t, err)
}

func TestParseMatchMode(t *testing.T) {
	for in, want := range map[string]MatchMode{"": MatchOverlap, "overlap": MatchOverlap, "EXACT": MatchExact, " file ": MatchFile} {
		got, err := ParseMatchMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseMatchMode("fuzzy")
	assert.Error(t, err)
}

func TestShortHash(t *testing.T) {
	assert.Equal(t, "0123abcd", shortHash("0123abcdef987654"))
	assert.Equal(t, "abc", shortHash("abc"))
	assert.Equal(t, "", shortHash(""))
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
