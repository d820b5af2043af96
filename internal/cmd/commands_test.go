package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildlens/buildlens/internal/output"
	"github.com/buildlens/buildlens/internal/workflow"
)

// project creates a temp project and makes it the working directory.
func project(t *testing.T) string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "DB_HOST", "BUILDLENS_BACKEND", "GITHUB_BASE_REF", "BASE_BRANCH"} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

// execute runs the root command with fresh flag values.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	verbosity, quiet, configPath, outputFormat, metricsFile = 0, true, "", "yaml", ""
	initForce = false
	learnCoverage, learnResults, learnSkipRun, learnReset = "", "", false, false
	resetForce, resetHard, resetTest, resetDryRun = false, false, "", false
	callList, callPipe = false, false

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func writeArtifacts(t *testing.T, root string) {
	t.Helper()
	abs := filepath.ToSlash(root)
	writeFile(t, filepath.Join(root, "coverage", "coverage-final.json"), `{
  "`+abs+`/src/user.service.ts": {
    "path": "`+abs+`/src/user.service.ts",
    "fnMap": {
      "0": {"name": "createUser", "decl": {"start": {"line": 10, "column": 2}, "end": {"line": 20, "column": 3}}},
      "1": {"name": "deleteUser", "decl": {"start": {"line": 22, "column": 2}, "end": {"line": 30, "column": 3}}}
    },
    "f": {"0": 3, "1": 0}
  }
}`)
	writeFile(t, filepath.Join(root, ".buildlens", "test-results.json"), `{
  "testResults": [
    {
      "name": "`+abs+`/src/user.service.spec.ts",
      "assertionResults": [
        {"ancestorTitles": ["UserService"], "title": "creates a user", "status": "passed"}
      ]
    }
  ]
}`)
}

func TestInit(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized buildlens at .buildlens")
	assert.FileExists(t, filepath.Join(dir, ".buildlens", "config.yaml"))
	assert.FileExists(t, filepath.Join(dir, ".buildlens", "graph.db"))

	out, err = execute(t, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Already initialized")
}

func TestLearnTestsStatusReset(t *testing.T) {
	dir := project(t)
	_, err := execute(t, "", "init")
	require.NoError(t, err)
	writeArtifacts(t, dir)
	writeFile(t, filepath.Join(dir, "src", "user.service.spec.ts"), "")
	writeFile(t, filepath.Join(dir, "src", "orphan.test.ts"), "")

	out, err := execute(t, "", "learn", "--skip-run", "--format", "json")
	require.NoError(t, err)
	var learned workflow.LearnReport
	require.NoError(t, json.Unmarshal([]byte(out), &learned))
	assert.Equal(t, 1, learned.FunctionsUpserted)
	assert.Equal(t, 1, learned.TestsUpserted)
	assert.Equal(t, 1, learned.LinksCreated)

	out, err = execute(t, "", "tests", "src/user.service.ts", "createUser", "--format", "json")
	require.NoError(t, err)
	var linked output.LinkedTestsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &linked))
	require.Len(t, linked.Functions, 1)
	assert.Equal(t, "src/user.service.ts:10-20", linked.Functions[0].Location)
	assert.Equal(t, []string{"src/user.service.spec.ts::UserService > creates a user"}, linked.Functions[0].Tests)

	out, err = execute(t, "", "status", "--format", "json")
	require.NoError(t, err)
	var status output.StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "sqlite", status.Backend)
	assert.Equal(t, 1, status.Links)
	assert.Equal(t, 2, status.TestFiles)
	assert.Equal(t, []string{"src/orphan.test.ts"}, status.Unlearned)

	out, err = execute(t, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset cancelled")

	_, err = execute(t, "", "reset", "--test", "src/nope.spec.ts::x", "--force")
	assert.ErrorContains(t, err, "no learned test")

	out, err = execute(t, "y\n", "reset", "--test", "src/user.service.spec.ts::UserService > creates a user")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 links")

	_, err = execute(t, "", "reset", "--hard")
	assert.ErrorContains(t, err, "--hard requires --force")
}

func TestLearnMissingCoverage(t *testing.T) {
	project(t)
	_, err := execute(t, "", "init")
	require.NoError(t, err)

	_, err = execute(t, "", "learn", "--skip-run")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMetricsFile(t *testing.T) {
	dir := project(t)
	_, err := execute(t, "", "init")
	require.NoError(t, err)
	writeArtifacts(t, dir)

	path := filepath.Join(dir, "buildlens.prom")
	_, err = execute(t, "", "learn", "--skip-run", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "buildlens_learn_links_created 1")
}

func TestCallStatus(t *testing.T) {
	project(t)
	_, err := execute(t, "", "init")
	require.NoError(t, err)

	out, err := execute(t, "", "call", "status")
	require.NoError(t, err)
	var status output.StatusOutput
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "sqlite", status.Backend)

	out, err = execute(t, "{\"tool\":\"status\"}\nnot json\n{\"tool\":\"nope\"}\n", "call", "--pipe")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"result"`)
	assert.Contains(t, lines[1], "invalid JSON")
	assert.Contains(t, lines[2], "unknown tool")
}
