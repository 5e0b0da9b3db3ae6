package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single logged line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per stream.
	MaxBufferedLines = 100
)

// LineHandler logs the lines of one captured output stream and keeps the
// most recent ones for the exit summary and the dashboard.
type LineHandler struct {
	stream  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	total  int64
	mu     sync.Mutex
}

// NewLineHandler creates a handler for the named stream.
func NewLineHandler(stream string, logger *slog.Logger, verbose bool) *LineHandler {
	return &LineHandler{
		stream:  stream,
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleLine records and logs a single line.
func (h *LineHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.total++
	h.mu.Unlock()

	h.logLine(line)
}

func (h *LineHandler) logLine(line string) {
	if h.logger == nil {
		return
	}
	level := ClassifyLine(line)

	// Without verbose only lines that look like problems are logged.
	if !h.verbose && level < slog.LevelWarn {
		return
	}

	h.logger.Log(context.Background(), level, "process_output",
		"stream", h.stream,
		"line", line,
	)
}

// ClassifyLine picks a log level from the content of an output line.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(lower, "panic") ||
		strings.Contains(lower, "fatal") ||
		strings.Contains(lower, "error") && strings.Contains(lower, "failed"):
		return slog.LevelError
	case strings.Contains(lower, "error") ||
		strings.Contains(lower, "warn") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "refused") ||
		strings.Contains(lower, "denied"):
		return slog.LevelWarn
	case strings.Contains(lower, "info"):
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *LineHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// Total returns the number of lines handled.
func (h *LineHandler) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Stream returns the stream name.
func (h *LineHandler) Stream() string {
	return h.stream
}

// ProblemPatterns are substrings counted by CountProblems.
var ProblemPatterns = []string{
	"error",
	"fatal",
	"panic",
	"exception",
	"timeout",
	"refused",
	"denied",
}

// CountProblems counts buffered lines matching each of ProblemPatterns
// (case-insensitive).
func (h *LineHandler) CountProblems() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, pattern := range ProblemPatterns {
			if strings.Contains(lower, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}
