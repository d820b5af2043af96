// Package coverage reads istanbul coverage snapshots and jest results and
// turns them into test/function links.
package coverage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrMalformedSnapshot is returned when a coverage file is not valid istanbul JSON.
var ErrMalformedSnapshot = errors.New("malformed coverage snapshot")

// AnonymousName names functions the instrumenter could not name.
const AnonymousName = "<anonymous>"

// Position is a line in a source file. Columns are ignored.
type Position struct {
	Line int `json:"line"`
}

// Span is a start/end pair as emitted by istanbul.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// FunctionMeta is one fnMap entry.
type FunctionMeta struct {
	Name string `json:"name"`
	Decl *Span  `json:"decl"`
	Loc  *Span  `json:"loc"`
}

// FileCoverage is the coverage record for one source file.
type FileCoverage struct {
	Path  string                  `json:"path"`
	FnMap map[string]FunctionMeta `json:"fnMap"`
	F     map[string]int          `json:"f"`
}

// CoveredFunction is a function with its execution count.
type CoveredFunction struct {
	Name      string
	StartLine int
	EndLine   int
	Count     int
}

// IsCovered returns true if the function ran at least once.
func (f CoveredFunction) IsCovered() bool {
	return f.Count > 0
}

// Snapshot is a parsed coverage-final.json, keyed by normalized path.
type Snapshot struct {
	Files map[string]*FileCoverage
}

// Paths returns the snapshot's file paths in sorted order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ParseSnapshotFile reads an istanbul coverage-final.json file. Paths are
// made relative to root when they fall inside it.
func ParseSnapshotFile(path, root string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open coverage file: %w", err)
	}
	defer file.Close()

	snap, err := ParseSnapshot(file, root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// ParseSnapshot decodes istanbul JSON from r.
func ParseSnapshot(r io.Reader, root string) (*Snapshot, error) {
	var raw map[string]*FileCoverage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}

	snap := &Snapshot{Files: make(map[string]*FileCoverage, len(raw))}
	for key, fc := range raw {
		if fc == nil {
			return nil, fmt.Errorf("%w: %s: null entry", ErrMalformedSnapshot, key)
		}
		path := key
		if fc.Path != "" {
			path = fc.Path
		}
		path = NormalizePath(path, root)
		fc.Path = path
		snap.Files[path] = fc
	}
	return snap, nil
}

// Functions returns the file's functions ordered by start line. The span
// comes from decl, or loc when decl is missing.
func (fc *FileCoverage) Functions() []CoveredFunction {
	ids := make([]string, 0, len(fc.FnMap))
	for id := range fc.FnMap {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})

	fns := make([]CoveredFunction, 0, len(ids))
	for _, id := range ids {
		meta := fc.FnMap[id]
		span := meta.Decl
		if span == nil {
			span = meta.Loc
		}
		if span == nil || span.Start.Line <= 0 {
			continue
		}

		name := strings.TrimSpace(meta.Name)
		if name == "" {
			name = AnonymousName
		}
		end := span.End.Line
		if end < span.Start.Line {
			end = span.Start.Line
		}
		fns = append(fns, CoveredFunction{
			Name:      name,
			StartLine: span.Start.Line,
			EndLine:   end,
			Count:     fc.F[id],
		})
	}

	sort.SliceStable(fns, func(i, j int) bool {
		return fns[i].StartLine < fns[j].StartLine
	})
	return fns
}

// CoveredFunctions returns only functions with a positive count.
func (fc *FileCoverage) CoveredFunctions() []CoveredFunction {
	var covered []CoveredFunction
	for _, f := range fc.Functions() {
		if f.IsCovered() {
			covered = append(covered, f)
		}
	}
	return covered
}

// NormalizePath makes path relative to root when it lies inside it, uses
// forward slashes and strips a leading "./".
func NormalizePath(path, root string) string {
	if root != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(root, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			path = rel
		}
	}
	path = filepath.ToSlash(filepath.Clean(path))
	return strings.TrimPrefix(path, "./")
}
