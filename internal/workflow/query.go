package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildlens/buildlens/internal/coverage"
	"github.com/buildlens/buildlens/internal/output"
	"github.com/buildlens/buildlens/internal/store"
)

// LinkedTests lists the stored functions of file with their linked tests.
// A non-empty function keeps only functions of that name; a bare method
// name also matches its class-qualified form.
func LinkedTests(ctx context.Context, g store.Graph, file, function string) (*output.LinkedTestsOutput, error) {
	fns, err := g.GetFunctionsByFilePaths(ctx, []string{file})
	if err != nil {
		return nil, err
	}

	out := &output.LinkedTestsOutput{
		File:      file,
		Function:  function,
		Functions: []output.FunctionTests{},
		TestFiles: []string{},
	}
	var all []store.Test
	for _, fn := range fns {
		if function != "" && !matchesName(fn.FunctionName, function) {
			continue
		}
		tests, err := g.GetTestsForFunctions(ctx, []int64{fn.ID})
		if err != nil {
			return nil, fmt.Errorf("tests for %s: %w", fn.FunctionName, err)
		}
		out.Functions = append(out.Functions, output.NewFunctionTests(fn, tests))
		all = append(all, tests...)
	}
	out.TestFiles = output.UniqueTestFiles(all)
	return out, nil
}

func matchesName(stored, want string) bool {
	return stored == want || strings.HasSuffix(stored, "."+want)
}

// Status summarizes the graph. When root is set, test files found under it
// are compared against the learned tests.
func Status(ctx context.Context, st *store.Store, root string, matcher *coverage.TestFileMatcher) (*output.StatusOutput, error) {
	stats, err := st.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &output.StatusOutput{
		Backend:   string(st.Backend()),
		Location:  st.Location(),
		Tests:     stats.Tests,
		Functions: stats.Functions,
		Links:     stats.Links,
	}
	if root == "" {
		return out, nil
	}

	if matcher == nil {
		matcher = coverage.NewTestFileMatcher(nil)
	}
	files, err := coverage.FindTestFiles(root, matcher)
	if err != nil {
		return nil, fmt.Errorf("find test files: %w", err)
	}
	tests, err := st.ListTests(ctx)
	if err != nil {
		return nil, err
	}
	learned := make(map[string]bool, len(tests))
	for _, t := range tests {
		learned[t.FilePath] = true
	}
	out.TestFiles = len(files)
	for _, f := range files {
		if !learned[f] {
			out.Unlearned = append(out.Unlearned, f)
		}
	}
	return out, nil
}
