package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/procdrain/internal/drain"
	"github.com/randomizedcoder/procdrain/internal/supervisor"
	"github.com/randomizedcoder/procdrain/internal/timeseries"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProcess())

	if m.timeout > 0 {
		sections = append(sections, m.renderTimeout())
	}

	sections = append(sections, m.renderStreams())

	if lines := m.renderRecentLines(); lines != "" {
		sections = append(sections, lines)
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" procdrain │ %s │ Elapsed: %s ",
		truncate(m.command, m.width/2),
		formatDuration(m.snapshot.Elapsed),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Process Section
// =============================================================================

func (m Model) renderProcess() string {
	pid := "-"
	if m.snapshot.Pid > 0 {
		pid = fmt.Sprintf("%d", m.snapshot.Pid)
	}

	exit := dimStyle.Render("running")
	if m.snapshot.Exited {
		code := m.snapshot.ExitCode
		exit = GetExitCodeStyle(code).Render(fmt.Sprintf("%d", code))
	}

	rows := []string{
		sectionHeaderStyle.Render("Process"),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("State:"), GetStateLabel(m.snapshot.State)),
		RenderKeyValue("PID", pid),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Exit code:"), exit),
	}

	if m.result != nil {
		rows = append(rows, m.renderResult())
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m Model) renderResult() string {
	r := m.result
	switch {
	case errors.Is(r.Err, supervisor.ErrTimeout):
		return statusError.Render("✗ " + r.Err.Error())
	case r.Err != nil:
		return statusWarning.Render("⚠ " + r.Err.Error())
	case r.ExitCode == 0:
		return statusOK.Render("✓ exited cleanly")
	default:
		return GetExitCodeStyle(r.ExitCode).Render(fmt.Sprintf("✗ exited with %d", r.ExitCode))
	}
}

// =============================================================================
// Timeout Section
// =============================================================================

func (m Model) renderTimeout() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render(fmt.Sprintf("Timeout (%s)", m.timeout)),
		RenderProgressBar(m.TimeoutProgress(), barWidth),
		RenderKeyValue("Remaining", formatDuration(m.Remaining())),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Stream Statistics
// =============================================================================

func (m Model) renderStreams() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-8s %12s %12s %12s %8s %7s  %s",
		"Stream", "Drained", "Rate (1s)", "Rate (10s)", "Chunks", "Errors", "Status"))

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Streams"),
		header,
		renderStreamRow(m.snapshot.Stdout, m.stdoutRate),
		renderStreamRow(m.snapshot.Stderr, m.stderrRate),
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderStreamRow(s drain.Stats, rate *timeseries.RateTracker) string {
	name := s.Name
	if name == "" {
		name = "-"
	}
	r := rate.Stats()

	row := fmt.Sprintf("%-8s %12s %12s %12s %8s ",
		name,
		formatBytes(s.BytesRead),
		formatByteRate(r.Avg1s),
		formatByteRate(r.Avg10s),
		formatNumber(s.Chunks),
	)
	errs := GetErrorCountStyle(s.ReadErrors).Render(fmt.Sprintf("%7d", s.ReadErrors))
	return row + errs + "  " + streamStatus(s)
}

// streamStatus describes where a drain is in its lifecycle.
func streamStatus(s drain.Stats) string {
	switch {
	case s.Finished && s.Cancelled:
		return statusWarning.Render("cancelled")
	case s.Finished:
		return statusOK.Render("eof")
	case s.SinkFailed:
		return statusError.Render("sink failed")
	case s.Cancelled:
		return statusWarning.Render("cancelling")
	case s.BytesRead > 0 || s.Chunks > 0:
		return statusInfo.Render("draining")
	default:
		return dimStyle.Render("waiting")
	}
}

// =============================================================================
// Recent Output
// =============================================================================

func (m Model) renderRecentLines() string {
	src, title := m.stderrLines, "Recent stderr"
	if m.showStdout {
		src, title = m.stdoutLines, "Recent stdout"
	}
	if src == nil {
		return ""
	}

	// Leave room for the other sections.
	n := m.height - 22
	if m.timeout > 0 {
		n -= 5
	}
	if n < 3 {
		n = 3
	}

	lines := src.RecentLines(n)
	rows := []string{sectionHeaderStyle.Render(title)}
	if len(lines) == 0 {
		rows = append(rows, dimStyle.Render("(no output yet)"))
	}
	for _, line := range lines {
		rows = append(rows, truncate(line, m.width-6))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	var parts []string
	parts = append(parts, "q: quit", "s: toggle stdout/stderr")
	if m.metricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(strings.Join(parts, " │ "))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 1 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
