// Package process provides a handle to a spawned child process whose output
// channels are exposed as raw pipes for draining.
package process

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
)

// ChildProcess is a live OS process as seen by a supervisor.
// The supervisor only reads from it; ownership stays with the caller that
// spawned it.
type ChildProcess interface {
	// Stdout returns the read end of the child's standard output.
	// A reader that implements SetReadDeadline or io.Closer can be
	// interrupted by a supervisor; any other reader is only released by EOF.
	Stdout() io.Reader

	// Stderr returns the read end of the child's standard error.
	Stderr() io.Reader

	// ExitCode reports the exit code without blocking.
	// exited is false while the process is still running.
	ExitCode() (code int, exited bool)

	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (int, error)

	// Kill forcibly terminates the process.
	Kill() error

	// Pid returns the OS process id.
	Pid() int

	// String identifies the process in logs and errors.
	String() string
}

// ExitCodeFromError extracts the exit code from a Wait() error.
// Signalled processes report 128 + signal number, matching shell convention.
func ExitCodeFromError(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	// Unknown error, assume exit code 1
	return 1
}
