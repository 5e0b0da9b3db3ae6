package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/procdrain/internal/supervisor"
	"github.com/randomizedcoder/procdrain/internal/timeseries"
)

// tickInterval is how often the dashboard samples the session.
const tickInterval = 500 * time.Millisecond

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg carries an externally taken session snapshot.
type SnapshotMsg supervisor.Snapshot

// ResultMsg reports how the session ended. The dashboard renders it and exits.
type ResultMsg struct {
	ExitCode int
	Err      error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// SnapshotSource provides point-in-time views of the session.
type SnapshotSource interface {
	Snapshot() supervisor.Snapshot
}

// LineSource provides the most recent captured lines of one stream.
type LineSource interface {
	RecentLines(n int) []string
}

// Config holds TUI configuration.
type Config struct {
	Command     string
	Timeout     time.Duration // 0 = unbounded
	MetricsAddr string
	Source      SnapshotSource
	StdoutLines LineSource // optional
	StderrLines LineSource // optional
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	command     string
	timeout     time.Duration
	metricsAddr string

	source      SnapshotSource
	stdoutLines LineSource
	stderrLines LineSource

	// Current state
	snapshot   supervisor.Snapshot
	hasSnap    bool
	stdoutRate *timeseries.RateTracker
	stderrRate *timeseries.RateTracker
	showStdout bool
	lastUpdate time.Time

	result *ResultMsg

	// Display options
	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		command:     cfg.Command,
		timeout:     cfg.Timeout,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		stdoutLines: cfg.StdoutLines,
		stderrLines: cfg.StderrLines,
		stdoutRate:  timeseries.NewRateTracker(),
		stderrRate:  timeseries.NewRateTracker(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "s":
			m.showStdout = !m.showStdout
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.observe(m.source.Snapshot())
		}
		return m, tickCmd()

	case SnapshotMsg:
		m.observe(supervisor.Snapshot(msg))
		return m, nil

	case ResultMsg:
		m.result = &msg
		if m.source != nil {
			m.observe(m.source.Snapshot())
		}
		return m, tea.Quit

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) observe(snap supervisor.Snapshot) {
	m.snapshot = snap
	m.hasSnap = true
	m.stdoutRate.Observe(snap.Stdout.BytesRead)
	m.stderrRate.Observe(snap.Stderr.BytesRead)
	m.lastUpdate = time.Now()
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after tickInterval.
func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Snapshot returns the last observed session snapshot.
func (m Model) Snapshot() supervisor.Snapshot {
	return m.snapshot
}

// Quitting reports whether the user asked to leave the dashboard.
func (m Model) Quitting() bool {
	return m.quitting
}

// Result returns the session outcome, or nil while it is still running.
func (m Model) Result() *ResultMsg {
	return m.result
}

// TimeoutProgress returns how much of the timeout has elapsed (0.0 to 1.0).
// Always 0 for an unbounded wait.
func (m Model) TimeoutProgress() float64 {
	if m.timeout <= 0 {
		return 0
	}
	p := float64(m.snapshot.Elapsed) / float64(m.timeout)
	if p > 1 {
		p = 1
	}
	return p
}

// Remaining returns the time left before a bounded wait kills the command.
func (m Model) Remaining() time.Duration {
	if m.timeout <= 0 {
		return 0
	}
	left := m.timeout - m.snapshot.Elapsed
	if left < 0 {
		return 0
	}
	return left
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendResult tells a running dashboard the session is over.
func SendResult(p *tea.Program, exitCode int, err error) {
	if p != nil {
		p.Send(ResultMsg{ExitCode: exitCode, Err: err})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// formatByteRate formats a bytes/sec rate.
func formatByteRate(rate float64) string {
	if rate <= 0 {
		return "idle"
	}
	return formatBytes(int64(rate)) + "/s"
}
