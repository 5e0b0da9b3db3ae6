package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/procdrain/internal/drain"
	"github.com/randomizedcoder/procdrain/internal/process"
)

// Stream names used in logs, stats and metrics.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

const (
	// DefaultPollInterval is how often a bounded wait checks for exit.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultDrainTimeout bounds the join after the process has exited.
	// Drains still open after it (a grandchild holding the pipe) are
	// cancelled and joined.
	DefaultDrainTimeout = 5 * time.Second
)

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the session state changes.
	OnStateChange func(oldState, newState State)

	// OnExit is called once the process exit code is known.
	OnExit func(exitCode int, elapsed time.Duration)

	// OnTimeout is called when a bounded wait kills the process.
	OnTimeout func(timeout time.Duration)

	// OnChunk is called from a drain goroutine for every read that returned
	// data. It must not block.
	OnChunk func(stream string, n int)

	// OnDrainJoined is called once per drain when it is joined.
	OnDrainJoined func(stats drain.Stats)

	// OnJoinAbandoned is called each time a join on a drain gives up.
	OnJoinAbandoned func(stream string)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Child process.ChildProcess

	// Quiet drains both channels without forwarding anything.
	Quiet bool

	// Stdout and Stderr are the sinks when not quiet.
	// They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	Logger       *slog.Logger
	PollInterval time.Duration
	DrainTimeout time.Duration
	ChunkSize    int
	Callbacks    Callbacks
}

// Supervisor drains one child process's stdout and stderr and waits for it.
// A Supervisor supervises exactly one session; it cannot be restarted.
type Supervisor struct {
	child     process.ChildProcess
	stdout    *drain.Drain
	stderr    *drain.Drain
	logger    *slog.Logger
	callbacks Callbacks

	pollInterval time.Duration
	drainTimeout time.Duration

	launched atomic.Bool

	// State management
	state      State
	stateMu    sync.RWMutex
	launchTime time.Time

	joinedOnce [2]sync.Once
}

// New captures the child's output channels. Nothing is read until Launch.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("process", cfg.Child.String())

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}

	stdoutSink, stderrSink := cfg.Stdout, cfg.Stderr
	if stdoutSink == nil {
		stdoutSink = os.Stdout
	}
	if stderrSink == nil {
		stderrSink = os.Stderr
	}

	return &Supervisor{
		child:        cfg.Child,
		logger:       logger,
		callbacks:    cfg.Callbacks,
		pollInterval: pollInterval,
		drainTimeout: drainTimeout,
		state:        StateCreated,
		stdout: drain.New(drain.Config{
			Name:      StreamStdout,
			Source:    cfg.Child.Stdout(),
			Sink:      stdoutSink,
			Quiet:     cfg.Quiet,
			Logger:    logger,
			ChunkSize: cfg.ChunkSize,
			OnChunk:   chunkHook(cfg.Callbacks.OnChunk, StreamStdout),
		}),
		stderr: drain.New(drain.Config{
			Name:      StreamStderr,
			Source:    cfg.Child.Stderr(),
			Sink:      stderrSink,
			Quiet:     cfg.Quiet,
			Logger:    logger,
			ChunkSize: cfg.ChunkSize,
			OnChunk:   chunkHook(cfg.Callbacks.OnChunk, StreamStderr),
		}),
	}
}

func chunkHook(fn func(stream string, n int), stream string) func(int) {
	if fn == nil {
		return nil
	}
	return func(n int) { fn(stream, n) }
}

// Launch starts both drains and returns immediately.
// Only the first call has any effect.
func (s *Supervisor) Launch() {
	if !s.launch() {
		s.logger.Warn("supervisor_already_launched")
	}
}

func (s *Supervisor) launch() bool {
	if !s.launched.CompareAndSwap(false, true) {
		return false
	}

	s.stateMu.Lock()
	s.launchTime = time.Now()
	s.stateMu.Unlock()

	s.stdout.Start()
	s.stderr.Start()
	s.setState(StateLaunched)

	s.logger.Debug("supervisor_launched", "pid", s.child.Pid())
	return true
}

// Done blocks until both drains have finished or ctx is done.
// Each drain is joined independently; a drain whose join is cut short by
// ctx is reported as abandoned and is not retried.
func (s *Supervisor) Done(ctx context.Context) JoinReport {
	if !s.launched.Load() {
		return JoinReport{}
	}

	report := JoinReport{
		Stdout: s.join(ctx, 0, s.stdout),
		Stderr: s.join(ctx, 1, s.stderr),
	}
	if report.Complete() {
		s.setState(StateFinished)
	}
	return report
}

func (s *Supervisor) join(ctx context.Context, idx int, d *drain.Drain) JoinOutcome {
	if err := d.Wait(ctx); err != nil {
		s.logger.Warn("drain_join_abandoned",
			"stream", d.Name(),
			"reason", err.Error(),
		)
		if s.callbacks.OnJoinAbandoned != nil {
			s.callbacks.OnJoinAbandoned(d.Name())
		}
		return JoinAbandoned
	}

	s.joinedOnce[idx].Do(func() {
		if s.callbacks.OnDrainJoined != nil {
			s.callbacks.OnDrainJoined(d.Stats())
		}
	})
	return JoinCompleted
}

// Cancel tells both drains to stop and returns without waiting for them.
// Bytes already in flight may still be forwarded.
func (s *Supervisor) Cancel() {
	s.stdout.Cancel()
	s.stderr.Cancel()
	s.setState(StateCancelled)
	s.logger.Debug("supervisor_cancelled")
}

// WaitForResult launches the drains, waits for the process to exit and then
// joins both drains.
//
// If ctx ends first the result is WaitInterrupted with no exit code. The
// drains are cancelled and joined for at most the drain timeout before
// returning.
func (s *Supervisor) WaitForResult(ctx context.Context) Result {
	s.launch()

	code, err := s.child.Wait(ctx)
	if err != nil {
		s.logger.Warn("wait_interrupted", "error", err)
		s.Cancel()
		return Result{
			Status:  WaitInterrupted,
			Elapsed: s.Elapsed(),
			Join:    s.joinCancelled(),
			Err:     err,
		}
	}

	s.recordExit(code)
	return Result{
		Status:   Exited,
		ExitCode: code,
		Elapsed:  s.Elapsed(),
		Join:     s.finish(),
	}
}

// WaitForResultTimeout launches the drains and polls for exit every poll
// interval. If the process is still running when timeout elapses it is
// killed and a *TimeoutError is returned. Both drains are joined before
// returning on every path.
func (s *Supervisor) WaitForResultTimeout(timeout time.Duration) (exitCode int, err error) {
	s.launch()
	defer s.finish()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if code, exited := s.child.ExitCode(); exited {
			s.recordExit(code)
			return code, nil
		}
		if !time.Now().Before(deadline) {
			break
		}
		<-ticker.C
	}

	return -1, s.kill(timeout)
}

// kill terminates the process after a bounded wait expired and waits (up to
// the drain timeout) for it to be reaped.
func (s *Supervisor) kill(timeout time.Duration) error {
	s.logger.Warn("wait_timeout",
		"timeout", timeout.String(),
		"pid", s.child.Pid(),
	)

	if err := s.child.Kill(); err != nil {
		s.logger.Error("kill_failed", "error", err)
	}
	s.setState(StateTimedOut)
	if s.callbacks.OnTimeout != nil {
		s.callbacks.OnTimeout(timeout)
	}

	timeoutErr := &TimeoutError{
		Process:  s.child.String(),
		Timeout:  timeout,
		ExitCode: -1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	if code, err := s.child.Wait(ctx); err == nil {
		timeoutErr.ExitCode = code
		s.recordExit(code)
	} else {
		s.logger.Error("process_not_reaped", "error", err)
	}
	return timeoutErr
}

// finish joins the drains after the exit has been determined. Drains that
// outlive the drain timeout are cancelled and joined again.
func (s *Supervisor) finish() JoinReport {
	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()

	report := s.Done(ctx)
	if report.Complete() {
		return report
	}

	s.logger.Warn("drain_timeout",
		"timeout", s.drainTimeout.String(),
		"reason", "output channel still open after process exit",
	)
	s.stdout.Cancel()
	s.stderr.Cancel()
	return s.joinCancelled()
}

// joinCancelled joins drains that have been told to stop. A drain whose
// source supports neither read deadlines nor Close stays blocked in Read; it
// is reported abandoned once the drain timeout has passed.
func (s *Supervisor) joinCancelled() JoinReport {
	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	defer cancel()
	return s.Done(ctx)
}

func (s *Supervisor) recordExit(code int) {
	elapsed := s.Elapsed()
	s.logger.Info("process_exited",
		"pid", s.child.Pid(),
		"exit_code", code,
		"elapsed", elapsed.String(),
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(code, elapsed)
	}
}

// State returns the current state of the session.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState moves to newState if the transition is legal and calls the
// callback. Terminal states are never left.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	if !canTransition(oldState, newState) {
		s.stateMu.Unlock()
		return
	}
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Elapsed returns the time since Launch, or 0 before it.
func (s *Supervisor) Elapsed() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.launchTime.IsZero() {
		return 0
	}
	return time.Since(s.launchTime)
}

// Child returns the supervised process.
func (s *Supervisor) Child() process.ChildProcess {
	return s.child
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State    State
	Process  string
	Pid      int
	Elapsed  time.Duration
	Exited   bool
	ExitCode int
	Stdout   drain.Stats
	Stderr   drain.Stats
}

// Snapshot returns the current session view. Safe to call from any goroutine.
func (s *Supervisor) Snapshot() Snapshot {
	code, exited := s.child.ExitCode()
	return Snapshot{
		State:    s.State(),
		Process:  s.child.String(),
		Pid:      s.child.Pid(),
		Elapsed:  s.Elapsed(),
		Exited:   exited,
		ExitCode: code,
		Stdout:   s.stdout.Stats(),
		Stderr:   s.stderr.Stats(),
	}
}
