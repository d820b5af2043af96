// Package store persists the bipartite test/function graph.
//
// Three backends share one schema and one query set: an embedded SQLite
// file (the default, .buildlens/graph.db), a PostgreSQL server for graphs
// shared across CI runners, and an embedded Dolt repository that keeps a
// versioned history of the graph (.buildlens/graph/).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/dolthub/driver"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Options selects and addresses a backend.
type Options struct {
	Backend Backend
	// Path is the SQLite file or the Dolt repository directory.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}

// Store is a GraphStore over database/sql.
type Store struct {
	*sqlGraph
	db       *sql.DB
	backend  Backend
	location string
}

// Open opens the configured backend and creates the schema if needed.
func Open(ctx context.Context, opts Options) (*Store, error) {
	backend := opts.Backend
	if backend == "" {
		backend = SQLite
	}

	var (
		db       *sql.DB
		location string
		err      error
	)
	switch backend {
	case SQLite:
		db, location, err = openSQLite(opts.Path)
	case Postgres:
		db, location, err = openPostgres(ctx, opts.DSN)
	case Dolt:
		db, location, err = openDolt(opts.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	s := &Store{
		sqlGraph: &sqlGraph{q: db, d: dialectFor(backend), now: time.Now},
		db:       db,
		backend:  backend,
		location: location,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func openSQLite(path string) (*sql.DB, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("sqlite store needs a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, "", fmt.Errorf("create store directory: %w", err)
	}

	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; WAL still lets readers in.
	db.SetMaxOpenConns(1)
	return db, path, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, string, error) {
	if dsn == "" {
		return nil, "", fmt.Errorf("postgres store needs a DSN (set DATABASE_URL)")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open postgres db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("ping postgres: %w", err)
	}
	return db, redactDSN(dsn), nil
}

func openDolt(dir string) (*sql.DB, string, error) {
	if dir == "" {
		return nil, "", fmt.Errorf("dolt store needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, "", fmt.Errorf("create dolt directory: %w", err)
	}

	// Connect without a database first so it can be created.
	initDSN := fmt.Sprintf("file://%s?commitname=BuildLens&commitemail=buildlens@local", dir)
	initDB, err := sql.Open("dolt", initDSN)
	if err != nil {
		return nil, "", fmt.Errorf("open dolt for init: %w", err)
	}
	if _, err := initDB.Exec("CREATE DATABASE IF NOT EXISTS buildlens"); err != nil {
		initDB.Close()
		return nil, "", fmt.Errorf("create database: %w", err)
	}
	initDB.Close()

	dsn := fmt.Sprintf("file://%s?commitname=BuildLens&commitemail=buildlens@local&database=buildlens", dir)
	db, err := sql.Open("dolt", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open dolt db: %w", err)
	}
	return db, dir, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WithinTx runs fn against a transaction-scoped Graph.
func (s *Store) WithinTx(ctx context.Context, fn func(Graph) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	g := &sqlGraph{q: tx, d: s.d, now: s.now}
	if err := fn(g); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Snapshot commits the working set on Dolt and returns the commit hash.
func (s *Store) Snapshot(ctx context.Context, message string) (string, error) {
	if s.backend != Dolt {
		return "", nil
	}
	if _, err := s.db.ExecContext(ctx, "CALL DOLT_COMMIT('-A', '--allow-empty', '-m', ?)", message); err != nil {
		return "", fmt.Errorf("dolt commit: %w", err)
	}
	var hash string
	if err := s.db.QueryRowContext(ctx, "SELECT commit_hash FROM dolt_log LIMIT 1").Scan(&hash); err != nil {
		return "", fmt.Errorf("dolt log: %w", err)
	}
	return hash, nil
}

// Backend returns the engine in use.
func (s *Store) Backend() Backend {
	return s.backend
}

// Location returns the file, directory or redacted DSN of the database.
func (s *Store) Location() string {
	return s.location
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// redactDSN hides the password in a URL-style DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		if strings.Contains(dsn, "password=") {
			return "postgres (key/value DSN)"
		}
		return dsn
	}
	return u.Redacted()
}
