// Package diff turns git diffs into changed line ranges.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/buildlens/buildlens/internal/parser"
)

// ErrUnknownRef is returned when a base or head reference cannot be resolved.
var ErrUnknownRef = errors.New("unknown git reference")

// DefaultExtensions are the source extensions considered for impact analysis.
var DefaultExtensions = parser.SupportedExtensions()

// FileDiff is one file's slice of a diff between two references.
type FileDiff struct {
	// Path is the new path, or the old path for deleted files.
	Path string `yaml:"path" json:"path"`
	// Status is A (added), M (modified) or D (deleted).
	Status string `yaml:"status" json:"status"`
	// Insertions and Deletions are line counts for the file.
	Insertions int `yaml:"insertions" json:"insertions"`
	Deletions  int `yaml:"deletions" json:"deletions"`
	// Binary is set for binary files; they carry no ranges.
	Binary bool `yaml:"binary,omitempty" json:"binary,omitempty"`
	// Text is the file's unified diff.
	Text string `yaml:"-" json:"-"`
	// Changes are the ranges produced by ParseHunks.
	Changes []ChangedRange `yaml:"changes,omitempty" json:"changes,omitempty"`
}

// GitDiff reads diffs from a git work tree.
type GitDiff struct {
	projectRoot string
}

// NewGitDiff creates a GitDiff rooted at projectRoot.
func NewGitDiff(projectRoot string) *GitDiff {
	return &GitDiff{
		projectRoot: projectRoot,
	}
}

// ChangedFiles returns every file changed on head since it forked from base.
// Paths are relative to the project root, and files outside it are left
// out. An empty head means HEAD. Binary and non-source files are included
// and flagged; use FilterSource to drop them.
func (gd *GitDiff) ChangedFiles(ctx context.Context, base, head string) ([]FileDiff, error) {
	if head == "" {
		head = "HEAD"
	}
	for _, ref := range []string{base, head} {
		if err := gd.VerifyRef(ctx, ref); err != nil {
			return nil, err
		}
	}

	out, err := gd.git(ctx, "diff", "--no-color", "--no-ext-diff", "--no-renames", "--relative", base+"..."+head)
	if err != nil {
		return nil, err
	}
	return ParseUnifiedDiff(out)
}

// CurrentCommit returns the commit hash of HEAD.
func (gd *GitDiff) CurrentCommit(ctx context.Context) (string, error) {
	out, err := gd.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// VerifyRef checks that ref names a commit.
func (gd *GitDiff) VerifyRef(ctx context.Context, ref string) error {
	if ref == "" {
		return fmt.Errorf("%w: empty reference", ErrUnknownRef)
	}
	if _, err := gd.git(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}"); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return nil
}

func (gd *GitDiff) git(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = gd.projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("git %s: %w", args[0], err)
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return out, nil
}

// ParseUnifiedDiff splits a multi-file unified diff into per-file entries.
func ParseUnifiedDiff(content []byte) ([]FileDiff, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff(content)
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}

	files := make([]FileDiff, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		f, ok, err := convertFileDiff(fd)
		if err != nil {
			return nil, err
		}
		if ok {
			files = append(files, f)
		}
	}
	return files, nil
}

func convertFileDiff(fd *godiff.FileDiff) (FileDiff, bool, error) {
	orig, next := cleanPath(fd.OrigName), cleanPath(fd.NewName)

	f := FileDiff{Path: next, Status: "M"}
	switch {
	case orig == "/dev/null" || orig == "":
		f.Status = "A"
	case next == "/dev/null" || next == "":
		f.Status = "D"
		f.Path = orig
	}
	if f.Path == "" || f.Path == "/dev/null" {
		return FileDiff{}, false, nil
	}

	for _, ext := range fd.Extended {
		if strings.HasPrefix(ext, "Binary files ") || ext == "GIT binary patch" {
			f.Binary = true
		}
	}
	if f.Binary {
		return f, true, nil
	}

	for _, h := range fd.Hunks {
		for _, line := range bytes.Split(h.Body, []byte("\n")) {
			switch {
			case bytes.HasPrefix(line, []byte("+")):
				f.Insertions++
			case bytes.HasPrefix(line, []byte("-")):
				f.Deletions++
			}
		}
	}

	text, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return FileDiff{}, false, fmt.Errorf("print diff for %s: %w", f.Path, err)
	}
	f.Text = string(text)
	f.Changes = ParseHunks(f.Text)
	return f, true, nil
}

// FilterSource drops binary files and files whose extension is not listed.
func FilterSource(files []FileDiff, extensions []string) []FileDiff {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		allowed[strings.ToLower(ext)] = true
	}

	var out []FileDiff
	for _, f := range files {
		if f.Binary {
			continue
		}
		if !allowed[strings.ToLower(filepath.Ext(f.Path))] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// cleanPath removes the a/ or b/ prefix from git diff paths.
func cleanPath(path string) string {
	if path == "" || path == "/dev/null" {
		return path
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

// StatusDescription returns a human-readable description of a status code.
func StatusDescription(status string) string {
	switch status {
	case "A":
		return "added"
	case "M":
		return "modified"
	case "D":
		return "deleted"
	default:
		return "unknown"
	}
}
