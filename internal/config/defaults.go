package config

import (
	"time"

	"github.com/buildlens/buildlens/internal/parser"
)

const (
	// DefaultBaseRef is used when neither flag, environment nor config names one.
	DefaultBaseRef = "main"
	// DefaultSQLiteFile is the graph database under .buildlens.
	DefaultSQLiteFile = "graph.db"
	// DefaultDoltDir is the dolt repository under .buildlens.
	DefaultDoltDir = "graph"
)

// ValidMatchModes lists the ways SELECT maps changed functions to stored ones
var ValidMatchModes = []string{"exact", "overlap", "file"}

// DefaultConfig returns configuration with sensible defaults.
// These defaults are used when no config file exists or when
// config file is missing specific fields.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
		},
		Diff: DiffConfig{
			BaseRef:    DefaultBaseRef,
			Extensions: parser.SupportedExtensions(),
		},
		Learn: LearnConfig{
			CoveragePath:     "coverage/coverage-final.json",
			ResultsPath:      ".buildlens/test-results.json",
			TestFilePatterns: []string{".spec.", ".test."},
		},
		Select: SelectConfig{
			FallbackToAll: true,
			Match:         "overlap",
			Concurrency:   8,
		},
		Runner: RunnerConfig{
			Command: "npx jest",
			Timeout: 30 * time.Minute,
		},
	}
}

// IsValidMatchMode checks if the given match mode is valid
func IsValidMatchMode(mode string) bool {
	for _, valid := range ValidMatchModes {
		if mode == valid {
			return true
		}
	}
	return false
}
