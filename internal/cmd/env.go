package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/buildlens/buildlens/internal/config"
	"github.com/buildlens/buildlens/internal/logging"
	"github.com/buildlens/buildlens/internal/metrics"
	"github.com/buildlens/buildlens/internal/output"
	"github.com/buildlens/buildlens/internal/store"
	"github.com/buildlens/buildlens/internal/workflow"
)

// loadConfig reads --config when given, otherwise the nearest
// .buildlens/config.yaml, then applies .env and environment overrides.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Load(".")
	}
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.LoadDotEnv(cfg.Root); err != nil {
		return nil, err
	}
	config.ApplyEnv(cfg, os.Getenv)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the stderr logger for the global verbosity flags.
func newLogger(w io.Writer) *slog.Logger {
	return logging.New(w, logging.Options{Verbosity: verbosity, Quiet: quiet})
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	backend, err := store.ParseBackend(cfg.Store.Backend)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, store.Options{
		Backend: backend,
		Path:    cfg.StorePath(),
		DSN:     cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return st, nil
}

// writeReport prints v in the --format output format.
func writeReport(cmd *cobra.Command, v any) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	return output.Write(cmd.OutOrStdout(), format, v)
}

// session is the state shared by commands that run a workflow.
type session struct {
	cfg     *config.Config
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	runID   string
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr())

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("graph store open", "backend", st.Backend(), "location", st.Location())

	return &session{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		metrics: metrics.NewRecorder(),
		runID:   workflow.NewRunID(),
	}, nil
}

// close flushes metrics and closes the store.
func (s *session) close() {
	if metricsFile != "" {
		if err := s.metrics.WriteTextfile(metricsFile); err != nil {
			s.logger.Warn("could not write metrics", "path", metricsFile, "error", err)
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing graph store", "error", err)
	}
}

// absPath resolves path against the working directory so it can be made
// relative to the project root.
func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
