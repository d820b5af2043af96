package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
)

// LevelSilent is above every standard level.
const LevelSilent = slog.Level(100)

// Options configures New.
type Options struct {
	Verbosity int
	Quiet     bool
	// JSON forces the JSON handler. When false, JSON is still used if the
	// writer is a file that is not a terminal.
	JSON bool
}

// New returns a logger writing to w at the level implied by opts.
func New(w io.Writer, opts Options) *slog.Logger {
	level := LevelFromVerbosity(opts.Verbosity, opts.Quiet)
	if opts.JSON || !IsTerminal(w) {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return NewLogger(w, level)
}

// NewLogger returns a line-format logger.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewLineHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewLineHandler(io.Discard, &slog.HandlerOptions{Level: LevelSilent}))
}

// LevelFromVerbosity maps CLI flags to a level:
// quiet silences, 0 is warn, 1 is info, 2 or more is debug.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return LevelSilent
	}
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// IsTerminal reports whether w is a terminal. Writers that are not files
// count as terminals so buffers get the line format.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
