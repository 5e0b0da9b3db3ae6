// Package logging provides structured logging for procdrain.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Known formats and levels, used by config validation.
var (
	Formats = []string{"json", "text"}
	Levels  = []string{"debug", "info", "warn", "error"}
)

// NewLogger creates a logger writing to stderr.
// Format should be "json" or "text"; anything else falls back to json.
// verbose forces debug level and adds source locations.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	return New(os.Stderr, format, level, verbose)
}

// New creates a logger that writes to w.
func New(w io.Writer, format, level string, verbose bool) *slog.Logger {
	if w == nil {
		w = io.Discard
	}

	logLevel, _ := ParseLevel(level)
	if verbose {
		logLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: verbose,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

// Discard returns a logger that drops everything. Used while the TUI owns
// the terminal.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ParseLevel converts a level name to slog.Level.
// ok is false for unknown names, which map to info.
func ParseLevel(level string) (lvl slog.Level, ok bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ValidFormat reports whether format names a supported handler.
func ValidFormat(format string) bool {
	f := strings.ToLower(format)
	for _, known := range Formats {
		if f == known {
			return true
		}
	}
	return false
}

// WithProcess returns a child logger tagged with the supervised process.
func WithProcess(logger *slog.Logger, pid int, name string) *slog.Logger {
	return logger.With("pid", pid, "process", name)
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
