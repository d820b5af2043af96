// Package impact maps changed line ranges onto function declarations.
//
// A Resolver asks a DeclarationProvider for the declarations of every changed
// file, intersects them with the file's changed ranges and returns the set of
// changed functions. Files whose changes touch no declaration fall back to
// treating every declaration in the file as changed.
package impact

import (
	"context"
	"fmt"

	"github.com/buildlens/buildlens/internal/diff"
)

// Declaration is a named function or method span in a source file.
type Declaration struct {
	Name      string `yaml:"name" json:"name"`
	StartLine int    `yaml:"start_line" json:"start_line"`
	EndLine   int    `yaml:"end_line" json:"end_line"`
	Exported  bool   `yaml:"exported,omitempty" json:"exported,omitempty"`
	Async     bool   `yaml:"async,omitempty" json:"async,omitempty"`
}

// DeclarationProvider returns the declarations of one file.
// A missing file yields no declarations and no error.
type DeclarationProvider interface {
	Declarations(ctx context.Context, path string) ([]Declaration, error)
}

// ChangedFunctionKey identifies a changed function.
type ChangedFunctionKey struct {
	FilePath  string `yaml:"file_path" json:"file_path"`
	Name      string `yaml:"name" json:"name"`
	StartLine int    `yaml:"start_line" json:"start_line"`
	EndLine   int    `yaml:"end_line" json:"end_line"`
}

// String renders the key as path:name:start-end.
func (k ChangedFunctionKey) String() string {
	return fmt.Sprintf("%s:%s:%d-%d", k.FilePath, k.Name, k.StartLine, k.EndLine)
}

// Less orders keys by path, then span, then name.
func (k ChangedFunctionKey) Less(o ChangedFunctionKey) bool {
	if k.FilePath != o.FilePath {
		return k.FilePath < o.FilePath
	}
	if k.StartLine != o.StartLine {
		return k.StartLine < o.StartLine
	}
	if k.EndLine != o.EndLine {
		return k.EndLine < o.EndLine
	}
	return k.Name < o.Name
}

// FileChanges is one changed file and its changed ranges.
type FileChanges struct {
	Path   string
	Ranges []diff.ChangedRange
}

// Warning records a file that was skipped during resolution.
type Warning struct {
	Path    string `yaml:"path" json:"path"`
	Message string `yaml:"message" json:"message"`
}

// FromDiff converts diff entries into resolver input.
func FromDiff(files []diff.FileDiff) []FileChanges {
	out := make([]FileChanges, 0, len(files))
	for _, f := range files {
		out = append(out, FileChanges{Path: f.Path, Ranges: f.Changes})
	}
	return out
}
