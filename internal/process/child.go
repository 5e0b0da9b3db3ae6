package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// ErrOutputAssigned is returned by Start when the command already has
// Stdout or Stderr set; Child needs to own both channels.
var ErrOutputAssigned = errors.New("process: stdout or stderr already set")

// Child is an os/exec backed ChildProcess.
//
// Output is wired through os.Pipe rather than cmd.StdoutPipe so that reaping
// the process never closes the read ends underneath a drain. A single reaper
// goroutine calls cmd.Wait, which makes the non-blocking ExitCode possible.
type Child struct {
	cmd  *exec.Cmd
	name string
	pid  int

	stdout *os.File
	stderr *os.File

	// Written once by reap before exited is closed.
	exited   chan struct{}
	exitCode int
	waitErr  error
}

// Start wires both output channels to fresh pipes and starts cmd.
// The child is placed in its own process group so Kill reaches any
// grandchildren still holding the pipes open.
func Start(cmd *exec.Cmd) (*Child, error) {
	if cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, ErrOutputAssigned
	}

	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrRead, stderrWrite, err := os.Pipe()
	if err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdout = stdoutWrite
	cmd.Stderr = stderrWrite
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	name := filepath.Base(cmd.Path)
	if err := cmd.Start(); err != nil {
		stdoutRead.Close()
		stdoutWrite.Close()
		stderrRead.Close()
		stderrWrite.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	// Close the parent's write ends so the drains see EOF once the child
	// (and anything it forked) exits.
	stdoutWrite.Close()
	stderrWrite.Close()

	c := &Child{
		cmd:    cmd,
		name:   name,
		pid:    cmd.Process.Pid,
		stdout: stdoutRead,
		stderr: stderrRead,
		exited: make(chan struct{}),
	}
	go c.reap()
	return c, nil
}

func (c *Child) reap() {
	err := c.cmd.Wait()
	c.waitErr = err
	c.exitCode = ExitCodeFromError(err)
	close(c.exited)
}

// Stdout returns the read end of the stdout pipe.
func (c *Child) Stdout() io.Reader {
	return c.stdout
}

// Stderr returns the read end of the stderr pipe.
func (c *Child) Stderr() io.Reader {
	return c.stderr
}

// ExitCode reports the exit code if the process has been reaped.
func (c *Child) ExitCode() (int, bool) {
	select {
	case <-c.exited:
		return c.exitCode, true
	default:
		return 0, false
	}
}

// Wait blocks until the process exits or ctx is done.
// A non-zero exit is not an error; the error is ctx.Err() when abandoned.
func (c *Child) Wait(ctx context.Context) (int, error) {
	select {
	case <-c.exited:
		return c.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Exited returns a channel closed once the process has been reaped.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// WaitError returns the raw error from cmd.Wait, nil until the process exits.
func (c *Child) WaitError() error {
	select {
	case <-c.exited:
		return c.waitErr
	default:
		return nil
	}
}

// Kill sends SIGKILL to the child's process group.
// Killing an already reaped process is a no-op.
func (c *Child) Kill() error {
	return c.signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM, then SIGKILL if the process has not exited
// within grace. Returns the exit code once the process is reaped.
func (c *Child) Terminate(grace time.Duration) (int, error) {
	if err := c.signal(syscall.SIGTERM); err != nil {
		return 0, err
	}

	select {
	case <-c.exited:
		return c.exitCode, nil
	case <-time.After(grace):
	}

	if err := c.Kill(); err != nil {
		return 0, err
	}
	<-c.exited
	return c.exitCode, nil
}

func (c *Child) signal(sig syscall.Signal) error {
	select {
	case <-c.exited:
		return nil
	default:
	}

	// The child leads its own group (Setpgid), so -pid reaches descendants.
	if err := syscall.Kill(-c.pid, sig); err == nil {
		return nil
	}
	err := c.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("signal %s: %w", c, err)
	}
	return nil
}

// Pid returns the OS process id.
func (c *Child) Pid() int {
	return c.pid
}

// String returns "name[pid]".
func (c *Child) String() string {
	return fmt.Sprintf("%s[%d]", c.name, c.pid)
}

// Ensure Child implements ChildProcess
var _ ChildProcess = (*Child)(nil)
