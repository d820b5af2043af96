package coverage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buildlens/buildlens/internal/store"
)

// GraphWriter is the part of the graph store the learner writes through.
type GraphWriter interface {
	UpsertTest(ctx context.Context, filePath, testName string) (*store.Test, error)
	UpsertFunction(ctx context.Context, key store.FunctionKey, commitHash string) (*store.Function, error)
	CreateLink(ctx context.Context, testID, functionID int64) (*store.Link, bool, error)
}

// LearnResult counts what a learn pass wrote.
type LearnResult struct {
	SourceFiles       int `yaml:"source_files" json:"source_files"`
	SkippedTestFiles  int `yaml:"skipped_test_files" json:"skipped_test_files"`
	FunctionsUpserted int `yaml:"functions_upserted" json:"functions_upserted"`
	TestsUpserted     int `yaml:"tests_upserted" json:"tests_upserted"`
	LinksCreated      int `yaml:"links_created" json:"links_created"`
	LinksExisting     int `yaml:"links_existing" json:"links_existing"`
}

// Learner links discovered tests to the functions a coverage snapshot
// reports as executed.
//
// Coverage is collected for the whole run, so every test in a test file is
// linked to every covered function in the snapshot. Finer attribution needs
// coverage collected per test.
type Learner struct {
	matcher *TestFileMatcher
	logger  *slog.Logger
}

// NewLearner creates a learner. A nil matcher uses the default patterns.
func NewLearner(matcher *TestFileMatcher, logger *slog.Logger) *Learner {
	if matcher == nil {
		matcher = NewTestFileMatcher(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Learner{matcher: matcher, logger: logger}
}

// Learn writes Functions, Tests and Links for one snapshot. An empty
// commitHash stores no provenance. Callers wanting all-or-nothing
// semantics run it inside a store transaction.
func (l *Learner) Learn(ctx context.Context, w GraphWriter, snap *Snapshot, tests []DiscoveredTest, commitHash string) (*LearnResult, error) {
	result := &LearnResult{}

	functionIDs, err := l.upsertCovered(ctx, w, snap, commitHash, result)
	if err != nil {
		return nil, err
	}
	if len(functionIDs) == 0 {
		l.logger.Info("no covered source functions in snapshot", "files", len(snap.Files))
		return result, nil
	}

	files, groups := GroupByFile(tests)
	for _, file := range files {
		for _, t := range groups[file] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			test, err := w.UpsertTest(ctx, t.FilePath, t.Name)
			if err != nil {
				return nil, fmt.Errorf("upsert test %s::%s: %w", t.FilePath, t.Name, err)
			}
			result.TestsUpserted++

			for _, fnID := range functionIDs {
				_, created, err := w.CreateLink(ctx, test.ID, fnID)
				if err != nil {
					return nil, fmt.Errorf("link test %d to function %d: %w", test.ID, fnID, err)
				}
				if created {
					result.LinksCreated++
				} else {
					result.LinksExisting++
				}
			}
		}
		l.logger.Debug("linked test file", "file", file, "tests", len(groups[file]), "functions", len(functionIDs))
	}

	return result, nil
}

// upsertCovered stores every covered function of every non-test file and
// returns their ids in snapshot order.
func (l *Learner) upsertCovered(ctx context.Context, w GraphWriter, snap *Snapshot, commitHash string, result *LearnResult) ([]int64, error) {
	var ids []int64
	seen := make(map[int64]bool)

	for _, path := range snap.Paths() {
		if l.matcher.IsTestFile(path) {
			result.SkippedTestFiles++
			continue
		}
		covered := snap.Files[path].CoveredFunctions()
		if len(covered) == 0 {
			continue
		}
		result.SourceFiles++

		for _, fn := range covered {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			key := store.FunctionKey{
				FilePath:  path,
				Name:      fn.Name,
				StartLine: fn.StartLine,
				EndLine:   fn.EndLine,
			}
			stored, err := w.UpsertFunction(ctx, key, commitHash)
			if err != nil {
				return nil, fmt.Errorf("upsert function %s:%s: %w", path, fn.Name, err)
			}
			if seen[stored.ID] {
				continue
			}
			seen[stored.ID] = true
			ids = append(ids, stored.ID)
			result.FunctionsUpserted++
		}
	}
	return ids, nil
}
