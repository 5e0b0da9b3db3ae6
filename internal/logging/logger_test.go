package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
		ok       bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"ERROR", slog.LevelError, true},
		{"", slog.LevelInfo, false},
		{"trace", slog.LevelInfo, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			level, ok := ParseLevel(tc.input)
			if level != tc.expected || ok != tc.ok {
				t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tc.input, level, ok, tc.expected, tc.ok)
			}
		})
	}
}

func TestValidFormat(t *testing.T) {
	testCases := map[string]bool{
		"json":  true,
		"JSON":  true,
		"text":  true,
		"":      false,
		"plain": false,
	}
	for format, want := range testCases {
		if got := ValidFormat(format); got != want {
			t.Errorf("ValidFormat(%q) = %v, want %v", format, got, want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json", "info", false)
	logger.Info("process_exited", "exit_code", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "process_exited" {
		t.Errorf("msg = %v, want process_exited", entry["msg"])
	}
	if entry["exit_code"] != float64(7) {
		t.Errorf("exit_code = %v, want 7", entry["exit_code"])
	}
}

func TestNew_TextAndDefault(t *testing.T) {
	testCases := []struct {
		format   string
		wantJSON bool
	}{
		{"text", false},
		{"TEXT", false},
		{"json", true},
		{"", true},
		{"invalid", true},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			New(&buf, tc.format, "info", false).Info("hello")
			isJSON := strings.HasPrefix(buf.String(), "{")
			if isJSON != tc.wantJSON {
				t.Errorf("format %q produced %q", tc.format, buf.String())
			}
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	testCases := []struct {
		level     string
		logFn     func(*slog.Logger)
		shouldLog bool
	}{
		{"error", func(l *slog.Logger) { l.Warn("m") }, false},
		{"error", func(l *slog.Logger) { l.Error("m") }, true},
		{"warn", func(l *slog.Logger) { l.Info("m") }, false},
		{"warn", func(l *slog.Logger) { l.Warn("m") }, true},
		{"info", func(l *slog.Logger) { l.Debug("m") }, false},
		{"debug", func(l *slog.Logger) { l.Debug("m") }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			tc.logFn(New(&buf, "text", tc.level, false))
			if logged := buf.Len() > 0; logged != tc.shouldLog {
				t.Errorf("level %s: logged = %v, want %v", tc.level, logged, tc.shouldLog)
			}
		})
	}
}

func TestNew_VerboseOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "text", "error", true)
	logger.Debug("debug message")

	if !strings.Contains(buf.String(), "debug message") {
		t.Error("verbose logger should log debug messages")
	}
	if !strings.Contains(buf.String(), "source=") {
		t.Error("verbose logger should add source locations")
	}
}

func TestNew_NilWriter(t *testing.T) {
	logger := New(nil, "json", "info", false)
	logger.Info("dropped") // must not panic
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(nil, slog.LevelError) {
		t.Error("Discard() logger should not be enabled for any level")
	}
}

func TestWithProcess(t *testing.T) {
	var buf bytes.Buffer
	logger := WithProcess(New(&buf, "text", "info", false), 4242, "sleep")
	logger.Info("x")

	out := buf.String()
	if !strings.Contains(out, "pid=4242") || !strings.Contains(out, "process=sleep") {
		t.Errorf("output %q missing process attributes", out)
	}
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetDefault(New(&buf, "text", "info", false))
	slog.Info("via default")

	if !strings.Contains(buf.String(), "via default") {
		t.Error("SetDefault did not install the logger")
	}
}

// =============================================================================
// LineHandler
// =============================================================================

func TestLineHandler_HandleLine(t *testing.T) {
	h := NewLineHandler("stderr", nil, false)
	h.HandleLine("first")
	h.HandleLine("second")

	lines := h.RecentLines(10)
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Errorf("RecentLines = %q", lines)
	}
	if h.Total() != 2 {
		t.Errorf("Total() = %d, want 2", h.Total())
	}
	if h.Stream() != "stderr" {
		t.Errorf("Stream() = %q", h.Stream())
	}
}

func TestLineHandler_Truncation(t *testing.T) {
	h := NewLineHandler("stdout", nil, false)
	h.HandleLine(strings.Repeat("x", MaxLineLength+50))

	lines := h.RecentLines(1)
	if len(lines) != 1 {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasSuffix(lines[0], "...(truncated)") {
		t.Error("long line should be truncated")
	}
	if len(lines[0]) != MaxLineLength+len("...(truncated)") {
		t.Errorf("truncated length = %d", len(lines[0]))
	}
}

func TestLineHandler_CircularBuffer(t *testing.T) {
	h := NewLineHandler("stdout", nil, false)
	for i := 0; i < MaxBufferedLines+25; i++ {
		h.HandleLine(fmt.Sprintf("line %d", i))
	}

	lines := h.RecentLines(MaxBufferedLines + 10)
	if len(lines) != MaxBufferedLines {
		t.Fatalf("got %d lines, want %d", len(lines), MaxBufferedLines)
	}
	if lines[0] != "line 25" {
		t.Errorf("oldest = %q, want %q", lines[0], "line 25")
	}
	if last := lines[len(lines)-1]; last != fmt.Sprintf("line %d", MaxBufferedLines+24) {
		t.Errorf("newest = %q", last)
	}
}

func TestLineHandler_RecentLinesEmpty(t *testing.T) {
	h := NewLineHandler("stdout", nil, false)
	if lines := h.RecentLines(5); len(lines) != 0 {
		t.Errorf("RecentLines on empty handler = %q", lines)
	}
}

func TestClassifyLine(t *testing.T) {
	testCases := []struct {
		line string
		want slog.Level
	}{
		{"panic: runtime error", slog.LevelError},
		{"FATAL: cannot open", slog.LevelError},
		{"error: connect failed", slog.LevelError},
		{"error reading config", slog.LevelWarn},
		{"WARN disk almost full", slog.LevelWarn},
		{"connection refused", slog.LevelWarn},
		{"permission denied", slog.LevelWarn},
		{"INFO started", slog.LevelInfo},
		{"progress 50%", slog.LevelDebug},
		{"", slog.LevelDebug},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			if got := ClassifyLine(tc.line); got != tc.want {
				t.Errorf("ClassifyLine(%q) = %v, want %v", tc.line, got, tc.want)
			}
		})
	}
}

func TestLineHandler_VerboseLogging(t *testing.T) {
	testCases := []struct {
		name    string
		verbose bool
		line    string
		logged  bool
	}{
		{"quiet drops debug", false, "progress 10%", false},
		{"quiet keeps warn", false, "warning: low memory", true},
		{"verbose keeps debug", true, "progress 10%", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewLineHandler("stderr", New(&buf, "text", "debug", false), tc.verbose)
			h.HandleLine(tc.line)

			logged := strings.Contains(buf.String(), "process_output")
			if logged != tc.logged {
				t.Errorf("logged = %v, want %v (%q)", logged, tc.logged, buf.String())
			}
			if tc.logged && !strings.Contains(buf.String(), "stream=stderr") {
				t.Error("log entry missing stream attribute")
			}
		})
	}
}

func TestLineHandler_CountProblems(t *testing.T) {
	h := NewLineHandler("stderr", nil, false)
	h.HandleLine("Error: disk full")
	h.HandleLine("connection refused")
	h.HandleLine("read timeout, error")
	h.HandleLine("all good")

	counts := h.CountProblems()
	if counts["error"] != 2 {
		t.Errorf("error count = %d, want 2", counts["error"])
	}
	if counts["refused"] != 1 {
		t.Errorf("refused count = %d, want 1", counts["refused"])
	}
	if counts["timeout"] != 1 {
		t.Errorf("timeout count = %d, want 1", counts["timeout"])
	}
}

func TestLineHandler_Concurrent(t *testing.T) {
	h := NewLineHandler("stdout", nil, false)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				h.HandleLine(fmt.Sprintf("g%d-%d", g, i))
				h.RecentLines(10)
			}
		}(g)
	}
	wg.Wait()

	if h.Total() != 400 {
		t.Errorf("Total() = %d, want 400", h.Total())
	}
}
