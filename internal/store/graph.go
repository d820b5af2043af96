package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

// maxInParams bounds IN (...) lists so large lookups stay under driver
// parameter limits.
const maxInParams = 500

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlGraph implements Graph over a *sql.DB or *sql.Tx.
type sqlGraph struct {
	q   queryer
	d   *dialect
	now func() time.Time
}

var _ Graph = (*sqlGraph)(nil)

func (g *sqlGraph) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return g.q.ExecContext(ctx, g.d.rebind(query), args...)
}

func (g *sqlGraph) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return g.q.QueryContext(ctx, g.d.rebind(query), args...)
}

func (g *sqlGraph) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return g.q.QueryRowContext(ctx, g.d.rebind(query), args...)
}

func (g *sqlGraph) timestamp() string {
	return g.now().UTC().Format(time.RFC3339Nano)
}

// UpsertTest creates or touches a test.
func (g *sqlGraph) UpsertTest(ctx context.Context, filePath, testName string) (*Test, error) {
	now := g.timestamp()
	if _, err := g.exec(ctx, g.d.upsertTest, filePath, testName, now, now); err != nil {
		return nil, fmt.Errorf("upsert test %s > %s: %w", filePath, testName, err)
	}
	return g.GetTest(ctx, filePath, testName)
}

// UpsertFunction creates or refreshes a function, keeping the stored commit
// hash when commitHash is empty.
func (g *sqlGraph) UpsertFunction(ctx context.Context, key FunctionKey, commitHash string) (*Function, error) {
	if key.StartLine > key.EndLine {
		return nil, fmt.Errorf("%w: %s %d-%d", ErrInvalidSpan, key.Name, key.StartLine, key.EndLine)
	}
	now := g.timestamp()
	_, err := g.exec(ctx, g.d.upsertFunction,
		key.FilePath, key.Name, key.StartLine, key.EndLine, nullableHash(commitHash), now, now)
	if err != nil {
		return nil, fmt.Errorf("upsert function %s:%s: %w", key.FilePath, key.Name, err)
	}
	return g.GetFunction(ctx, key)
}

// nullableHash maps an absent hash to NULL so COALESCE keeps the stored value.
func nullableHash(h string) sql.NullString {
	return sql.NullString{String: h, Valid: h != ""}
}

// CreateLink connects a test to a function. Unknown ids are rejected before
// the insert so every backend reports them the same way.
func (g *sqlGraph) CreateLink(ctx context.Context, testID, functionID int64) (*Link, bool, error) {
	var tests, functions int
	err := g.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tests WHERE id = ?),
			(SELECT COUNT(*) FROM functions WHERE id = ?)`,
		testID, functionID).Scan(&tests, &functions)
	if err != nil {
		return nil, false, fmt.Errorf("check link endpoints: %w", err)
	}
	if tests == 0 {
		return nil, false, fmt.Errorf("%w: test %d", ErrUnknownEndpoint, testID)
	}
	if functions == 0 {
		return nil, false, fmt.Errorf("%w: function %d", ErrUnknownEndpoint, functionID)
	}

	res, err := g.exec(ctx, g.d.insertLink, testID, functionID, g.timestamp())
	if err != nil {
		return nil, false, fmt.Errorf("insert link %d->%d: %w", testID, functionID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert link %d->%d: %w", testID, functionID, err)
	}

	link, err := g.getLink(ctx, testID, functionID)
	if err != nil {
		return nil, false, err
	}
	return link, n > 0, nil
}

func (g *sqlGraph) getLink(ctx context.Context, testID, functionID int64) (*Link, error) {
	var l Link
	var created string
	err := g.queryRow(ctx, `
		SELECT id, test_id, function_id, created_at
		FROM test_function_links WHERE test_id = ? AND function_id = ?`,
		testID, functionID).Scan(&l.ID, &l.TestID, &l.FunctionID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("link %d->%d: %w", testID, functionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	l.CreatedAt = parseTime(created)
	return &l, nil
}

// GetTest looks a test up by natural key.
func (g *sqlGraph) GetTest(ctx context.Context, filePath, testName string) (*Test, error) {
	row := g.queryRow(ctx, `
		SELECT id, file_path, test_name, created_at, updated_at
		FROM tests WHERE file_path = ? AND test_name = ?`,
		filePath, testName)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test %s > %s: %w", filePath, testName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// GetFunction looks a function up by natural key. It never inserts.
func (g *sqlGraph) GetFunction(ctx context.Context, key FunctionKey) (*Function, error) {
	row := g.queryRow(ctx, `
		SELECT id, file_path, function_name, start_line, end_line, commit_hash, created_at, updated_at
		FROM functions
		WHERE file_path = ? AND function_name = ? AND start_line = ? AND end_line = ?`,
		key.FilePath, key.Name, key.StartLine, key.EndLine)
	f, err := scanFunction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("function %s:%s:%d-%d: %w", key.FilePath, key.Name, key.StartLine, key.EndLine, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get function: %w", err)
	}
	return f, nil
}

// GetFunctionsByFilePaths returns every function stored for the given files.
func (g *sqlGraph) GetFunctionsByFilePaths(ctx context.Context, paths []string) ([]Function, error) {
	var out []Function
	for _, chunk := range chunk(dedupStrings(paths)) {
		args := make([]any, len(chunk))
		for i, p := range chunk {
			args[i] = p
		}
		rows, err := g.query(ctx, `
			SELECT id, file_path, function_name, start_line, end_line, commit_hash, created_at, updated_at
			FROM functions WHERE file_path IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("functions by file: %w", err)
		}
		fns, err := collectFunctions(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fns...)
	}
	sortFunctions(out)
	return out, nil
}

// GetTestsForFunctions returns the distinct tests linked to any of ids.
// An empty ids slice returns nothing without touching the database.
func (g *sqlGraph) GetTestsForFunctions(ctx context.Context, ids []int64) ([]Test, error) {
	if len(ids) == 0 {
		return []Test{}, nil
	}

	seen := make(map[int64]bool)
	out := []Test{}
	for _, chunk := range chunk(dedupIDs(ids)) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := g.query(ctx, `
			SELECT DISTINCT t.id, t.file_path, t.test_name, t.created_at, t.updated_at
			FROM tests t
			JOIN test_function_links l ON l.test_id = t.id
			WHERE l.function_id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("tests for functions: %w", err)
		}
		tests, err := collectTests(rows)
		if err != nil {
			return nil, err
		}
		for _, t := range tests {
			if !seen[t.ID] {
				seen[t.ID] = true
				out = append(out, t)
			}
		}
	}
	sortTests(out)
	return out, nil
}

// GetFunctionsForTest returns the functions linked to a test.
func (g *sqlGraph) GetFunctionsForTest(ctx context.Context, testID int64) ([]Function, error) {
	rows, err := g.query(ctx, `
		SELECT f.id, f.file_path, f.function_name, f.start_line, f.end_line, f.commit_hash, f.created_at, f.updated_at
		FROM functions f
		JOIN test_function_links l ON l.function_id = f.id
		WHERE l.test_id = ?`, testID)
	if err != nil {
		return nil, fmt.Errorf("functions for test: %w", err)
	}
	fns, err := collectFunctions(rows)
	if err != nil {
		return nil, err
	}
	sortFunctions(fns)
	return fns, nil
}

// ListTests returns every learned test.
func (g *sqlGraph) ListTests(ctx context.Context) ([]Test, error) {
	rows, err := g.query(ctx, `SELECT id, file_path, test_name, created_at, updated_at FROM tests`)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	tests, err := collectTests(rows)
	if err != nil {
		return nil, err
	}
	sortTests(tests)
	return tests, nil
}

// ClearLinksForTest removes a test's links and returns how many were removed.
func (g *sqlGraph) ClearLinksForTest(ctx context.Context, testID int64) (int64, error) {
	res, err := g.exec(ctx, `DELETE FROM test_function_links WHERE test_id = ?`, testID)
	if err != nil {
		return 0, fmt.Errorf("clear links for test %d: %w", testID, err)
	}
	return res.RowsAffected()
}

// ClearAllLinks removes every link.
func (g *sqlGraph) ClearAllLinks(ctx context.Context) (int64, error) {
	res, err := g.exec(ctx, `DELETE FROM test_function_links`)
	if err != nil {
		return 0, fmt.Errorf("clear links: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTest removes a test and, by cascade, its links.
func (g *sqlGraph) DeleteTest(ctx context.Context, testID int64) error {
	if _, err := g.exec(ctx, `DELETE FROM tests WHERE id = ?`, testID); err != nil {
		return fmt.Errorf("delete test %d: %w", testID, err)
	}
	return nil
}

// DeleteFunction removes a function and, by cascade, its links.
func (g *sqlGraph) DeleteFunction(ctx context.Context, functionID int64) error {
	if _, err := g.exec(ctx, `DELETE FROM functions WHERE id = ?`, functionID); err != nil {
		return fmt.Errorf("delete function %d: %w", functionID, err)
	}
	return nil
}

// Purge removes all rows.
func (g *sqlGraph) Purge(ctx context.Context) error {
	for _, table := range []string{"test_function_links", "tests", "functions"} {
		if _, err := g.exec(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
	}
	return nil
}

// Stats counts rows in each relation.
func (g *sqlGraph) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := g.queryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM tests),
			(SELECT COUNT(*) FROM functions),
			(SELECT COUNT(*) FROM test_function_links)`).Scan(&s.Tests, &s.Functions, &s.Links)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTest(row scanner) (*Test, error) {
	var t Test
	var created, updated string
	if err := row.Scan(&t.ID, &t.FilePath, &t.TestName, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func scanFunction(row scanner) (*Function, error) {
	var f Function
	var hash sql.NullString
	var created, updated string
	err := row.Scan(&f.ID, &f.FilePath, &f.FunctionName, &f.StartLine, &f.EndLine, &hash, &created, &updated)
	if err != nil {
		return nil, err
	}
	f.CommitHash = hash.String
	f.CreatedAt = parseTime(created)
	f.UpdatedAt = parseTime(updated)
	return &f, nil
}

func collectTests(rows *sql.Rows) ([]Test, error) {
	defer rows.Close()
	var tests []Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test: %w", err)
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

func collectFunctions(rows *sql.Rows) ([]Function, error) {
	defer rows.Close()
	var fns []Function
	for rows.Next() {
		f, err := scanFunction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan function: %w", err)
		}
		fns = append(fns, *f)
	}
	return fns, rows.Err()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func sortTests(tests []Test) {
	sort.Slice(tests, func(i, j int) bool {
		if tests[i].FilePath != tests[j].FilePath {
			return tests[i].FilePath < tests[j].FilePath
		}
		return tests[i].TestName < tests[j].TestName
	})
}

func sortFunctions(fns []Function) {
	sort.Slice(fns, func(i, j int) bool {
		a, b := fns[i], fns[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return a.FunctionName < b.FunctionName
	})
}

func chunk[T any](items []T) [][]T {
	var out [][]T
	for len(items) > maxInParams {
		out = append(out, items[:maxInParams])
		items = items[maxInParams:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func dedupIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func dedupStrings(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
