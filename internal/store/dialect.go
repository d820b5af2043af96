package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Backend names a database engine.
type Backend string

const (
	// SQLite is the embedded default, stored at .buildlens/graph.db.
	SQLite Backend = "sqlite"
	// Postgres is a shared server, addressed by DSN.
	Postgres Backend = "postgres"
	// Dolt is an embedded, versioned MySQL-compatible database.
	Dolt Backend = "dolt"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case SQLite, Postgres, Dolt:
		return b, nil
	case "":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unknown store backend %q (want sqlite, postgres or dolt)", s)
	}
}

// dialect holds the SQL that differs between backends. Queries elsewhere are
// written with ? placeholders and passed through rebind.
type dialect struct {
	backend        Backend
	numbered       bool // $1, $2, ... placeholders
	schema         []string
	upsertTest     string
	upsertFunction string
	insertLink     string
}

func dialectFor(b Backend) *dialect {
	switch b {
	case Postgres:
		return &dialect{
			backend:        Postgres,
			numbered:       true,
			schema:         postgresSchema,
			upsertTest:     upsertTestOnConflict,
			upsertFunction: upsertFunctionOnConflict,
			insertLink:     insertLinkOnConflict,
		}
	case Dolt:
		return &dialect{
			backend:        Dolt,
			schema:         doltSchema,
			upsertTest:     upsertTestOnDuplicate,
			upsertFunction: upsertFunctionOnDuplicate,
			insertLink:     insertLinkIgnore,
		}
	default:
		return &dialect{
			backend:        SQLite,
			schema:         sqliteSchema,
			upsertTest:     upsertTestOnConflict,
			upsertFunction: upsertFunctionOnConflict,
			insertLink:     insertLinkOnConflict,
		}
	}
}

// rebind rewrites ? placeholders for backends that number them.
func (d *dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// The commit hash merge is explicit: a NULL incoming hash keeps the stored one.
const (
	upsertTestOnConflict = `
		INSERT INTO tests (file_path, test_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (file_path, test_name) DO UPDATE SET updated_at = excluded.updated_at`

	upsertFunctionOnConflict = `
		INSERT INTO functions (file_path, function_name, start_line, end_line, commit_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_path, function_name, start_line, end_line) DO UPDATE SET
			commit_hash = COALESCE(excluded.commit_hash, functions.commit_hash),
			updated_at = excluded.updated_at`

	insertLinkOnConflict = `
		INSERT INTO test_function_links (test_id, function_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (test_id, function_id) DO NOTHING`

	upsertTestOnDuplicate = `
		INSERT INTO tests (file_path, test_name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at)`

	upsertFunctionOnDuplicate = `
		INSERT INTO functions (file_path, function_name, start_line, end_line, commit_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			commit_hash = COALESCE(VALUES(commit_hash), commit_hash),
			updated_at = VALUES(updated_at)`

	insertLinkIgnore = `
		INSERT IGNORE INTO test_function_links (test_id, function_id, created_at)
		VALUES (?, ?, ?)`
)
