package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrUnknownEndpoint is returned when a link names a missing test or function.
	ErrUnknownEndpoint = errors.New("link endpoint does not exist")
	// ErrInvalidSpan is returned for a function whose start line follows its end line.
	ErrInvalidSpan = errors.New("invalid function span")
)

// Graph is the bipartite test/function graph. Writes are upserts keyed on
// natural keys, so repeating a call never creates a second row or edge.
type Graph interface {
	// UpsertTest creates the test or touches its updated_at.
	UpsertTest(ctx context.Context, filePath, testName string) (*Test, error)
	// UpsertFunction creates the function or refreshes it. An empty
	// commitHash keeps whatever hash is already stored.
	UpsertFunction(ctx context.Context, key FunctionKey, commitHash string) (*Function, error)
	// CreateLink connects a test and a function. created is false when the
	// edge already existed.
	CreateLink(ctx context.Context, testID, functionID int64) (link *Link, created bool, err error)

	GetTest(ctx context.Context, filePath, testName string) (*Test, error)
	GetFunction(ctx context.Context, key FunctionKey) (*Function, error)
	GetFunctionsByFilePaths(ctx context.Context, paths []string) ([]Function, error)
	// GetTestsForFunctions returns the distinct tests linked to any of ids.
	GetTestsForFunctions(ctx context.Context, ids []int64) ([]Test, error)
	GetFunctionsForTest(ctx context.Context, testID int64) ([]Function, error)
	ListTests(ctx context.Context) ([]Test, error)

	ClearLinksForTest(ctx context.Context, testID int64) (int64, error)
	ClearAllLinks(ctx context.Context) (int64, error)
	DeleteTest(ctx context.Context, testID int64) error
	DeleteFunction(ctx context.Context, functionID int64) error
	// Purge removes every test and function; links go with them.
	Purge(ctx context.Context) error

	Stats(ctx context.Context) (*Stats, error)
}

// GraphStore is a Graph backed by a database that can group operations
// into a transaction.
type GraphStore interface {
	Graph
	// WithinTx runs fn in a transaction, committing if fn returns nil.
	WithinTx(ctx context.Context, fn func(Graph) error) error
	// Snapshot records a version of the graph where the backend supports
	// it and returns its id. Other backends return "".
	Snapshot(ctx context.Context, message string) (string, error)
	Backend() Backend
	Close() error
}

var _ GraphStore = (*Store)(nil)
