package coverage

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// NameSeparator joins describe blocks and the test title.
const NameSeparator = " > "

// DefaultTestFilePatterns mark a path as a test file.
var DefaultTestFilePatterns = []string{".spec.", ".test."}

// DiscoveredTest is a test case reported by the runner.
type DiscoveredTest struct {
	FilePath string `yaml:"file_path" json:"file_path"`
	Name     string `yaml:"name" json:"name"`
	Status   string `yaml:"status,omitempty" json:"status,omitempty"`
}

// TestFileMatcher decides whether a path is a test file.
type TestFileMatcher struct {
	patterns []string
}

// NewTestFileMatcher returns a matcher for the given substrings. An empty
// list uses DefaultTestFilePatterns.
func NewTestFileMatcher(patterns []string) *TestFileMatcher {
	if len(patterns) == 0 {
		patterns = DefaultTestFilePatterns
	}
	return &TestFileMatcher{patterns: patterns}
}

// IsTestFile checks the file's base name against the patterns.
func (m *TestFileMatcher) IsTestFile(path string) bool {
	base := filepath.Base(filepath.FromSlash(path))
	for _, p := range m.patterns {
		if p != "" && strings.Contains(base, p) {
			return true
		}
	}
	return false
}

type jestReport struct {
	Success     bool             `json:"success"`
	NumFailed   int              `json:"numFailedTests"`
	TestResults []jestFileResult `json:"testResults"`
}

type jestFileResult struct {
	Name             string          `json:"name"`
	AssertionResults []jestAssertion `json:"assertionResults"`
}

type jestAssertion struct {
	AncestorTitles []string `json:"ancestorTitles"`
	Ancestors      []string `json:"ancestors"`
	Title          string   `json:"title"`
	Status         string   `json:"status"`
}

// ParseTestResultsFile reads a jest --json report.
func ParseTestResultsFile(path, root string) ([]DiscoveredTest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test results: %w", err)
	}
	defer file.Close()

	tests, err := ParseTestResults(file, root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tests, nil
}

// ParseTestResults decodes a jest --json report into discovered tests.
// Duplicate (file, name) pairs are reported once.
func ParseTestResults(r io.Reader, root string) ([]DiscoveredTest, error) {
	var report jestReport
	if err := json.NewDecoder(r).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode test results: %w", err)
	}

	seen := make(map[string]bool)
	var tests []DiscoveredTest
	for _, file := range report.TestResults {
		if file.Name == "" {
			continue
		}
		path := NormalizePath(file.Name, root)
		for _, a := range file.AssertionResults {
			ancestors := a.AncestorTitles
			if len(ancestors) == 0 {
				ancestors = a.Ancestors
			}
			name := QualifiedName(ancestors, a.Title)
			if name == "" {
				continue
			}
			key := path + "::" + name
			if seen[key] {
				continue
			}
			seen[key] = true
			tests = append(tests, DiscoveredTest{FilePath: path, Name: name, Status: a.Status})
		}
	}
	return tests, nil
}

// QualifiedName joins the non-empty describe titles and the test title.
func QualifiedName(ancestors []string, title string) string {
	parts := make([]string, 0, len(ancestors)+1)
	for _, a := range ancestors {
		if a = strings.TrimSpace(a); a != "" {
			parts = append(parts, a)
		}
	}
	if title = strings.TrimSpace(title); title != "" {
		parts = append(parts, title)
	}
	return strings.Join(parts, NameSeparator)
}

// GroupByFile buckets tests by file path. Both the keys and each bucket
// keep first-seen order.
func GroupByFile(tests []DiscoveredTest) ([]string, map[string][]DiscoveredTest) {
	var files []string
	groups := make(map[string][]DiscoveredTest)
	for _, t := range tests {
		if _, ok := groups[t.FilePath]; !ok {
			files = append(files, t.FilePath)
		}
		groups[t.FilePath] = append(groups[t.FilePath], t)
	}
	return files, groups
}

var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".buildlens":   true,
	"coverage":     true,
	"dist":         true,
}

// FindTestFiles walks root and returns the relative paths of test files.
func FindTestFiles(root string, m *TestFileMatcher) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if m.IsTestFile(path) {
			files = append(files, NormalizePath(path, root))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
