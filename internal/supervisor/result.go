package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("process did not exit within timeout")

// TimeoutError is returned by WaitForResultTimeout when the process had to be
// killed.
type TimeoutError struct {
	Process string
	Timeout time.Duration

	// ExitCode is the status observed after the kill, -1 if the process was
	// not reaped in time.
	ExitCode int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process %s didn't exit by itself within %s so it was killed", e.Process, e.Timeout)
}

// Is lets errors.Is(err, ErrTimeout) match.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// WaitStatus distinguishes a real exit from an interrupted wait.
type WaitStatus int

const (
	// Exited means ExitCode holds the process's true exit code.
	Exited WaitStatus = iota

	// WaitInterrupted means the wait was abandoned and the exit code is unknown.
	WaitInterrupted
)

func (s WaitStatus) String() string {
	switch s {
	case Exited:
		return "exited"
	case WaitInterrupted:
		return "wait_interrupted"
	default:
		return "unknown"
	}
}

// Result is the outcome of an unbounded wait.
type Result struct {
	Status   WaitStatus
	ExitCode int // valid only when Status == Exited
	Elapsed  time.Duration
	Join     JoinReport
	Err      error // ctx.Err() when Status == WaitInterrupted
}

// Code returns the exit code and whether it is authoritative.
func (r Result) Code() (int, bool) {
	if r.Status != Exited {
		return 0, false
	}
	return r.ExitCode, true
}

// JoinOutcome describes how a single drain ended up after a join attempt.
type JoinOutcome int

const (
	// JoinNotStarted means the drain was never launched.
	JoinNotStarted JoinOutcome = iota

	// JoinCompleted means the drain finished and was joined.
	JoinCompleted

	// JoinAbandoned means the join gave up before the drain finished.
	JoinAbandoned
)

func (o JoinOutcome) String() string {
	switch o {
	case JoinNotStarted:
		return "not_started"
	case JoinCompleted:
		return "completed"
	case JoinAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// JoinReport says, per drain, whether Done fully joined it.
type JoinReport struct {
	Stdout JoinOutcome
	Stderr JoinOutcome
}

// Complete reports whether both drains were joined.
func (r JoinReport) Complete() bool {
	return r.Stdout == JoinCompleted && r.Stderr == JoinCompleted
}
