// Package orchestrator wires one supervised command to the CLI's outer
// surfaces: preflight, output capture, metrics, signals and the dashboard.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/procdrain/internal/config"
	"github.com/randomizedcoder/procdrain/internal/drain"
	"github.com/randomizedcoder/procdrain/internal/logging"
	"github.com/randomizedcoder/procdrain/internal/metrics"
	"github.com/randomizedcoder/procdrain/internal/preflight"
	"github.com/randomizedcoder/procdrain/internal/process"
	"github.com/randomizedcoder/procdrain/internal/supervisor"
	"github.com/randomizedcoder/procdrain/internal/tui"
)

// Exit codes returned by Run besides the command's own.
const (
	ExitSetupError  = 1
	ExitTimeout     = 124 // as coreutils timeout(1)
	ExitInterrupted = 130 // 128 + SIGINT
)

// Options holds the writers an Orchestrator uses. Nil fields default to the
// process's stdio.
type Options struct {
	Version string

	// Stdout and Stderr receive the command's forwarded output.
	Stdout io.Writer
	Stderr io.Writer

	// Out receives preflight results, the exit summary and metric dumps.
	Out io.Writer

	// Signals overrides the signals that interrupt the wait.
	Signals []os.Signal
}

// Orchestrator runs one command under a Supervisor.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	opts   Options

	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server

	stdoutLines *logging.LineHandler
	stderrLines *logging.LineHandler
	pipelines   []*drain.Pipeline

	supervisor *supervisor.Supervisor
	startTime  time.Time
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version: opts.Version,
		Command: cfg.Command[0],
	}, registry)

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		opts:     opts,
		registry: registry,
		metrics:  collector,
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}
	return o
}

// Run executes the command and blocks until it exits, times out or the
// wait is interrupted. It returns the exit code procdrain should exit with.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config.Command[0], o.config.Dir)
		if !result.Passed || o.config.Verbose {
			preflight.PrintResults(o.opts.Out, result)
		}
		if !result.Passed {
			return ExitSetupError, fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return ExitSetupError, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
				o.logger.Warn("metrics_server_shutdown_error", "error", err)
			}
		}()
	}

	cmd := exec.Command(o.config.Command[0], o.config.Command[1:]...)
	cmd.Dir = o.config.Dir
	child, err := process.Start(cmd)
	if err != nil {
		return ExitSetupError, err
	}

	logger := logging.WithProcess(o.logger, child.Pid(), child.String())
	logger.Info("process_started", "command", strings.Join(o.config.Command, " "))

	stdoutSink, stderrSink := o.sinks(logger)
	o.supervisor = supervisor.New(supervisor.Config{
		Child:        child,
		Quiet:        o.config.Quiet,
		Stdout:       stdoutSink,
		Stderr:       stderrSink,
		Logger:       o.logger.With("pid", child.Pid()), // supervisor adds the process name
		PollInterval: o.config.PollInterval,
		DrainTimeout: config.EffectiveDrainTimeout(o.config),
		ChunkSize:    o.config.ChunkSize,
		Callbacks: o.metrics.Callbacks(supervisor.Callbacks{
			OnTimeout: func(timeout time.Duration) {
				logger.Warn("command_timed_out", "timeout", timeout.String())
			},
		}),
	})

	ctx, stop := signal.NotifyContext(ctx, o.opts.Signals...)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUIEnabled {
		program = o.newProgram()
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				logger.Error("tui_failed", "error", err)
			}
			// Leaving the dashboard interrupts the wait.
			cancel()
		}()
	} else {
		close(tuiDone)
	}

	code, waitErr := o.wait(ctx, child, logger)
	o.closePipelines(logger)
	if err := unexpectedWaitError(child.WaitError()); err != nil {
		logger.Warn("process_wait_error", "error", err, "exit_code", code)
	}

	if program != nil {
		tui.SendResult(program, code, waitErr)
		<-tuiDone
	}

	if o.config.TUIEnabled || o.config.Verbose {
		o.printExitSummary(code, waitErr)
	}
	if o.config.MetricsDump {
		if err := metrics.Dump(o.opts.Out, o.registry); err != nil {
			logger.Warn("metrics_dump_failed", "error", err)
		}
	}

	return exitStatus(code, waitErr), waitErr
}

// sinks picks where drained output goes: the caller's writers, or line
// handlers when the output is logged or shown on the dashboard.
func (o *Orchestrator) sinks(logger *slog.Logger) (io.Writer, io.Writer) {
	if o.config.Quiet {
		return nil, nil
	}
	if !o.config.LogOutput && !o.config.TUIEnabled {
		return o.opts.Stdout, o.opts.Stderr
	}

	o.stdoutLines = logging.NewLineHandler(supervisor.StreamStdout, logger, o.config.Verbose)
	o.stderrLines = logging.NewLineHandler(supervisor.StreamStderr, logger, o.config.Verbose)
	return o.capture(supervisor.StreamStdout, o.stdoutLines), o.capture(supervisor.StreamStderr, o.stderrLines)
}

// capture puts a lossy pipeline between a drain and a line handler so a
// slow handler never stalls the drain.
func (o *Orchestrator) capture(stream string, h drain.LineHandler) io.Writer {
	p := drain.NewPipeline(stream, h, 0)
	go p.Run()
	o.pipelines = append(o.pipelines, p)
	return drain.NewLineWriter(p)
}

// closePipelines hands over queued lines and records what was dropped.
func (o *Orchestrator) closePipelines(logger *slog.Logger) {
	for _, p := range o.pipelines {
		p.Close()
		st := p.Stats()
		o.metrics.RecordLinesDropped(st.Stream, st.Dropped)
		if st.Dropped > 0 {
			logger.Warn("lines_dropped",
				"stream", st.Stream,
				"dropped", st.Dropped,
				"read", st.Read,
				"drop_rate", p.DropRate(),
			)
		}
	}
}

// wait runs the configured wait. An interrupted wait terminates the child.
func (o *Orchestrator) wait(ctx context.Context, child *process.Child, logger *slog.Logger) (int, error) {
	if !o.config.Bounded() {
		result := o.supervisor.WaitForResult(ctx)
		if code, ok := result.Code(); ok {
			return code, nil
		}
		logger.Info("wait_interrupted", "join_complete", result.Join.Complete())
		code, err := child.Terminate(o.config.Grace)
		if err != nil {
			logger.Warn("terminate_failed", "error", err)
		}
		return code, fmt.Errorf("wait interrupted: %w", result.Err)
	}

	// The bounded wait is not context aware; a signal terminates the child
	// and the wait returns its exit code. The bounded wait always ends with
	// the child reaped, so the watcher never outlives it.
	interrupted := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(interrupted)
			logger.Info("wait_interrupted")
			if _, err := child.Terminate(o.config.Grace); err != nil {
				logger.Warn("terminate_failed", "error", err)
			}
		case <-child.Exited():
		}
	}()

	code, err := o.supervisor.WaitForResultTimeout(o.config.Timeout)

	select {
	case <-interrupted:
		if err == nil {
			err = fmt.Errorf("wait interrupted: %w", context.Canceled)
		}
	default:
	}
	return code, err
}

func (o *Orchestrator) newProgram() *tea.Program {
	cfg := tui.Config{
		Command:     strings.Join(o.config.Command, " "),
		Timeout:     o.config.Timeout,
		MetricsAddr: o.config.MetricsAddr,
		Source:      o.supervisor,
	}
	// Typed nils must not reach the interfaces.
	if o.stdoutLines != nil {
		cfg.StdoutLines = o.stdoutLines
		cfg.StderrLines = o.stderrLines
	}
	return tea.NewProgram(tui.New(cfg), tea.WithAltScreen())
}

// unexpectedWaitError returns err unless it only reports how the process
// exited. Anything else means the exit code is a guess.
func unexpectedWaitError(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// exitStatus maps the outcome of a wait to procdrain's exit code.
func exitStatus(code int, err error) int {
	switch {
	case err == nil:
		return code
	case errors.Is(err, supervisor.ErrTimeout):
		return ExitTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitInterrupted
	default:
		return ExitSetupError
	}
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary(code int, waitErr error) {
	w := o.opts.Out
	summary := o.metrics.GenerateSummary()
	snap := o.supervisor.Snapshot()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                       procdrain Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Command:                %s\n", strings.Join(o.config.Command, " "))
	fmt.Fprintf(w, "Process:                %s\n", snap.Process)
	fmt.Fprintf(w, "Final State:            %s\n", snap.State)
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(time.Since(o.startTime)))
	if waitErr != nil {
		fmt.Fprintf(w, "Outcome:                %v\n", waitErr)
	} else {
		fmt.Fprintf(w, "Exit Code:              %d %s\n", code, exitCodeLabel(code))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Streams:")
	for _, s := range []drain.Stats{snap.Stdout, snap.Stderr} {
		fmt.Fprintf(w, "  %-8s %12d bytes %8d chunks %4d read errors\n", s.Name, s.BytesRead, s.Chunks, s.ReadErrors)
	}
	fmt.Fprintln(w)

	if o.stderrLines != nil {
		if problems := o.stderrLines.CountProblems(); len(problems) > 0 {
			fmt.Fprintln(w, "Problem lines on stderr:")
			for pattern, n := range problems {
				fmt.Fprintf(w, "  %-24s %d\n", pattern, n)
			}
			fmt.Fprintln(w)
		}
	}

	if len(summary.Chunks) > 0 {
		fmt.Fprintln(w, "Read sizes (p50/p99/max):")
		for _, stream := range []string{supervisor.StreamStdout, supervisor.StreamStderr} {
			c, ok := summary.Chunks[stream]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "  %-8s %8d reads %10.0f / %.0f / %d bytes\n", stream, c.Reads, c.P50, c.P99, c.Max)
		}
		fmt.Fprintln(w)
	}
	if o.metricsServer != nil {
		fmt.Fprintf(w, "Metrics endpoint was:   http://%s/metrics\n", o.metricsServer.Addr())
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.mmm.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}
