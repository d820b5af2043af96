// Package testrunner runs the project's jest suite.
package testrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommand is used when no runner command is configured.
const DefaultCommand = "npx jest"

// DefaultTimeout bounds one runner invocation.
const DefaultTimeout = 30 * time.Minute

// waitDelay bounds how long output pipes are drained after a kill.
const waitDelay = 2 * time.Second

// ErrNoCommand is returned when the runner command is blank.
var ErrNoCommand = errors.New("no test runner command configured")

// Request describes one jest invocation. No Files means the whole suite.
type Request struct {
	Files []string
	// Coverage enables istanbul JSON coverage written under CoverageDir.
	Coverage    bool
	CoverageDir string
	// ResultsPath receives jest's --json report when set.
	ResultsPath string
}

// Result is the outcome of a run that started. A failing suite is a
// Result with Success false, not an error.
type Result struct {
	Success  bool          `yaml:"success" json:"success"`
	ExitCode int           `yaml:"exit_code" json:"exit_code"`
	Duration time.Duration `yaml:"duration" json:"duration"`
	All      bool          `yaml:"all" json:"all"`
	Files    []string      `yaml:"files,omitempty" json:"files,omitempty"`
}

// Jest invokes jest through a configurable command line.
type Jest struct {
	argv    []string
	dir     string
	timeout time.Duration
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// Option configures a Jest runner.
type Option func(*Jest)

// WithOutput sets where the runner's stdout and stderr go. Nil discards.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(j *Jest) {
		if stdout != nil {
			j.stdout = stdout
		}
		if stderr != nil {
			j.stderr = stderr
		}
	}
}

// WithTimeout bounds each invocation. Zero keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(j *Jest) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Jest) {
		if l != nil {
			j.logger = l
		}
	}
}

// NewJest creates a runner for command, run from dir. The command is split
// on whitespace; an empty command uses DefaultCommand.
func NewJest(command, dir string, opts ...Option) (*Jest, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	j := &Jest{
		argv:    argv,
		dir:     dir,
		timeout: DefaultTimeout,
		stdout:  io.Discard,
		stderr:  io.Discard,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Args returns the argument list for req, after the command itself.
func (j *Jest) Args(req Request) []string {
	args := append([]string{}, j.argv[1:]...)
	if req.Coverage {
		args = append(args, "--coverage", "--coverageReporters=json")
		if req.CoverageDir != "" {
			args = append(args, "--coverageDirectory="+req.CoverageDir)
		}
	}
	if req.ResultsPath != "" {
		args = append(args, "--json", "--outputFile="+req.ResultsPath)
	}
	if len(req.Files) > 0 {
		args = append(args, "--runTestsByPath")
		args = append(args, req.Files...)
	}
	return args
}

// Run executes jest. Only a failure to start, a timeout or cancellation is
// returned as an error.
func (j *Jest) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	args := j.Args(req)
	cmd := exec.CommandContext(ctx, j.argv[0], args...)
	if j.dir != "" {
		cmd.Dir = j.dir
	}
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	cmd.Stdout = j.stdout
	cmd.Stderr = io.MultiWriter(j.stderr, &tailWriter{buf: &stderr, max: 4096})

	j.logger.Info("running tests", "command", j.argv[0], "args", strings.Join(args, " "))
	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Duration: time.Since(start),
		All:      len(req.Files) == 0,
		Files:    req.Files,
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s: %w", j.argv[0], ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		j.logger.Debug("test run failed", "exit_code", result.ExitCode, "stderr", strings.TrimSpace(stderr.String()))
	default:
		return nil, fmt.Errorf("start %s: %w", j.argv[0], err)
	}
	return result, nil
}

// tailWriter keeps at most max bytes of the most recent output.
type tailWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	if over := w.buf.Len() - w.max; over > 0 {
		w.buf.Next(over)
	}
	return len(p), nil
}
