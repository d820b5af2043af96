package output

import (
	"fmt"
	"sort"

	"github.com/buildlens/buildlens/internal/store"
)

// StatusOutput is the report of `buildlens status`.
type StatusOutput struct {
	Backend   string `yaml:"backend" json:"backend"`
	Location  string `yaml:"location" json:"location"`
	Tests     int    `yaml:"tests" json:"tests"`
	Functions int    `yaml:"functions" json:"functions"`
	Links     int    `yaml:"links" json:"links"`
	// TestFiles counts test files in the working tree, learned or not.
	TestFiles int `yaml:"test_files" json:"test_files"`
	// Unlearned lists test files with no learned test.
	Unlearned []string `yaml:"unlearned,omitempty" json:"unlearned,omitempty"`
}

// FunctionTests is one stored function with the tests linked to it.
type FunctionTests struct {
	Name string `yaml:"name" json:"name"`
	// Location is the file path and line range: path:start-end
	Location string   `yaml:"location" json:"location"`
	Commit   string   `yaml:"commit,omitempty" json:"commit,omitempty"`
	Tests    []string `yaml:"tests" json:"tests"`
}

// LinkedTestsOutput is the report of `buildlens tests`.
type LinkedTestsOutput struct {
	File      string          `yaml:"file" json:"file"`
	Function  string          `yaml:"function,omitempty" json:"function,omitempty"`
	Functions []FunctionTests `yaml:"functions" json:"functions"`
	// TestFiles is the distinct set of test files across all functions.
	TestFiles []string `yaml:"test_files" json:"test_files"`
}

// FormatLocation renders a path and line range as path:start-end.
func FormatLocation(path string, start, end int) string {
	if start == end {
		return fmt.Sprintf("%s:%d", path, start)
	}
	return fmt.Sprintf("%s:%d-%d", path, start, end)
}

// TestID renders a test as file::name.
func TestID(t store.Test) string {
	return t.FilePath + "::" + t.TestName
}

// NewFunctionTests builds the entry for fn and its linked tests.
func NewFunctionTests(fn store.Function, tests []store.Test) FunctionTests {
	ids := make([]string, len(tests))
	for i, t := range tests {
		ids[i] = TestID(t)
	}
	sort.Strings(ids)
	return FunctionTests{
		Name:     fn.FunctionName,
		Location: FormatLocation(fn.FilePath, fn.StartLine, fn.EndLine),
		Commit:   fn.CommitHash,
		Tests:    ids,
	}
}

// UniqueTestFiles returns the sorted distinct file paths of tests.
func UniqueTestFiles(tests []store.Test) []string {
	seen := make(map[string]bool, len(tests))
	files := make([]string, 0, len(tests))
	for _, t := range tests {
		if !seen[t.FilePath] {
			seen[t.FilePath] = true
			files = append(files, t.FilePath)
		}
	}
	sort.Strings(files)
	return files
}
