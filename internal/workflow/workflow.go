// Package workflow sequences the learn and select runs against git, jest
// and the graph store.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/buildlens/buildlens/internal/diff"
	"github.com/buildlens/buildlens/internal/testrunner"
)

// ErrTestsFailed is returned when the tests a workflow ran did not pass.
var ErrTestsFailed = errors.New("tests failed")

// VCS is the version control collaborator.
type VCS interface {
	ChangedFiles(ctx context.Context, base, head string) ([]diff.FileDiff, error)
	CurrentCommit(ctx context.Context) (string, error)
}

// Runner runs tests. A failing suite is reported in the Result, not as an
// error.
type Runner interface {
	Run(ctx context.Context, req testrunner.Request) (*testrunner.Result, error)
}

// MatchMode selects how changed functions map to stored functions.
type MatchMode string

const (
	// MatchExact requires the stored natural key to equal the changed one.
	MatchExact MatchMode = "exact"
	// MatchOverlap takes stored functions in the same file whose span
	// overlaps a changed function.
	MatchOverlap MatchMode = "overlap"
	// MatchFile takes every stored function in a file with a changed function.
	MatchFile MatchMode = "file"
)

// ParseMatchMode parses a match mode. Empty means overlap.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchOverlap:
		return MatchOverlap, nil
	case MatchExact:
		return MatchExact, nil
	case MatchFile:
		return MatchFile, nil
	default:
		return "", fmt.Errorf("invalid match mode: %q (expected exact, overlap or file)", s)
	}
}

// NewRunID returns a fresh id for one invocation.
func NewRunID() string {
	return uuid.NewString()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
