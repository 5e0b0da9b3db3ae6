package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/procdrain/internal/config"
	"github.com/randomizedcoder/procdrain/internal/logging"
	"github.com/randomizedcoder/procdrain/internal/supervisor"
)

// =============================================================================
// Helpers
// =============================================================================

type harness struct {
	orch   *Orchestrator
	stdout bytes.Buffer
	stderr bytes.Buffer
	out    bytes.Buffer
}

func newHarness(t *testing.T, command []string, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Command = command
	cfg.DrainTimeout = 2 * time.Second
	cfg.Grace = time.Second
	if mutate != nil {
		mutate(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	h := &harness{}
	h.orch = New(cfg, logging.Discard(), Options{
		Version: "test",
		Stdout:  &h.stdout,
		Stderr:  &h.stderr,
		Out:     &h.out,
		// Keep real SIGINT/SIGTERM away from the test binary.
		Signals: []os.Signal{syscall.SIGUSR2},
	})
	return h
}

func sh(script string) []string {
	return []string{"sh", "-c", script}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_ForwardsOutputAndExitCode(t *testing.T) {
	h := newHarness(t, sh("echo out; echo err >&2; exit 3"), nil)

	code, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code != 3 {
		t.Errorf("code = %d, want 3", code)
	}
	if h.stdout.String() != "out\n" {
		t.Errorf("stdout = %q", h.stdout.String())
	}
	if h.stderr.String() != "err\n" {
		t.Errorf("stderr = %q", h.stderr.String())
	}
	if h.out.Len() != 0 {
		t.Errorf("unexpected diagnostics without -v:\n%s", h.out.String())
	}
}

func TestRun_Quiet(t *testing.T) {
	h := newHarness(t, sh("head -c 200000 /dev/zero; head -c 200000 /dev/zero >&2"), func(c *config.Config) {
		c.Quiet = true
	})

	code, err := h.orch.Run(context.Background())
	if err != nil || code != 0 {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if h.stdout.Len() != 0 || h.stderr.Len() != 0 {
		t.Error("quiet mode forwarded output")
	}
}

func TestRun_Timeout(t *testing.T) {
	h := newHarness(t, []string{"sleep", "10"}, func(c *config.Config) {
		c.Timeout = 300 * time.Millisecond
		c.MetricsDump = true
	})

	start := time.Now()
	code, err := h.orch.Run(context.Background())
	if !errors.Is(err, supervisor.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if code != ExitTimeout {
		t.Errorf("code = %d, want %d", code, ExitTimeout)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if !strings.Contains(h.out.String(), "procdrain_timeouts_total 1") {
		t.Errorf("metrics dump missing timeout counter:\n%s", h.out.String())
	}
}

func TestRun_BoundedFastExit(t *testing.T) {
	h := newHarness(t, sh("exit 4"), func(c *config.Config) {
		c.Timeout = 5 * time.Second
	})

	code, err := h.orch.Run(context.Background())
	if err != nil || code != 4 {
		t.Errorf("Run = %d, %v; want 4, nil", code, err)
	}
}

func TestRun_Interrupted(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{"unbounded", 0},
		{"bounded", 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []string{"sleep", "10"}, func(c *config.Config) {
				c.Timeout = tt.timeout
			})

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(200*time.Millisecond, cancel)

			start := time.Now()
			code, err := h.orch.Run(ctx)
			if code != ExitInterrupted {
				t.Errorf("code = %d, want %d", code, ExitInterrupted)
			}
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want context.Canceled", err)
			}
			if time.Since(start) > 5*time.Second {
				t.Errorf("interrupt took %v", time.Since(start))
			}
		})
	}
}

func TestRun_LogOutputCapturesLines(t *testing.T) {
	h := newHarness(t, sh("printf 'a\\nb\\n'; echo 'fatal: boom' >&2"), func(c *config.Config) {
		c.LogOutput = true
		c.Verbose = true
	})

	code, err := h.orch.Run(context.Background())
	if err != nil || code != 0 {
		t.Fatalf("Run = %d, %v", code, err)
	}
	if h.stdout.Len() != 0 {
		t.Error("captured output was also forwarded")
	}

	if got := h.orch.stdoutLines.RecentLines(10); strings.Join(got, ",") != "a,b" {
		t.Errorf("stdout lines = %q", got)
	}
	if got := h.orch.stderrLines.Total(); got != 1 {
		t.Errorf("stderr lines = %d, want 1", got)
	}

	summary := h.out.String()
	for _, want := range []string{"Preflight checks:", "procdrain Exit Summary", "Final State:", "finished", "fatal", "Read sizes (p50/p99/max):"} {
		if !strings.Contains(summary, want) {
			t.Errorf("verbose output missing %q:\n%s", want, summary)
		}
	}
}

func TestRun_PreflightFails(t *testing.T) {
	h := newHarness(t, []string{"procdrain-definitely-not-a-command"}, nil)

	code, err := h.orch.Run(context.Background())
	if err == nil || code != ExitSetupError {
		t.Fatalf("Run = %d, %v; want setup error", code, err)
	}
	if !strings.Contains(h.out.String(), "Fix:") {
		t.Errorf("failed preflight not printed:\n%s", h.out.String())
	}
}

func TestRun_StartFailsWithoutPreflight(t *testing.T) {
	h := newHarness(t, []string{"procdrain-definitely-not-a-command"}, func(c *config.Config) {
		c.SkipPreflight = true
	})

	code, err := h.orch.Run(context.Background())
	if err == nil || code != ExitSetupError {
		t.Errorf("Run = %d, %v; want setup error", code, err)
	}
}

func TestRun_MetricsServer(t *testing.T) {
	h := newHarness(t, sh("sleep 0.5"), func(c *config.Config) {
		c.MetricsAddr = "127.0.0.1:0"
	})

	done := make(chan struct{})
	var code int
	var runErr error
	go func() {
		defer close(done)
		code, runErr = h.orch.Run(context.Background())
	}()

	// Scrape while the command runs.
	deadline := time.Now().Add(2 * time.Second)
	var body string
	for time.Now().Before(deadline) && body == "" {
		addr := h.orch.metricsServer.Addr()
		if addr != "127.0.0.1:0" {
			resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
			if err == nil {
				b, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				body = string(b)
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	<-done

	if runErr != nil || code != 0 {
		t.Fatalf("Run = %d, %v", code, runErr)
	}
	if !strings.Contains(body, "procdrain_info") {
		t.Errorf("scrape missing procdrain_info:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("scrape missing go collector metrics")
	}
}

func TestRun_MetricsServerBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	h := newHarness(t, sh("true"), func(c *config.Config) {
		c.MetricsAddr = busy.Addr().String()
	})

	code, err := h.orch.Run(context.Background())
	if err == nil || code != ExitSetupError {
		t.Errorf("Run = %d, %v; want bind error", code, err)
	}
}

func TestUnexpectedWaitError(t *testing.T) {
	exitErr := exec.Command("sh", "-c", "exit 3").Run()
	if exitErr == nil {
		t.Fatal("sh -c 'exit 3' did not fail")
	}
	boom := errors.New("wait: bad file descriptor")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"clean exit", nil, nil},
		{"non-zero exit", exitErr, nil},
		{"wrapped non-zero exit", fmt.Errorf("wait: %w", exitErr), nil},
		{"other failure", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := unexpectedWaitError(tt.err); got != tt.want {
				t.Errorf("unexpectedWaitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

// =============================================================================
// exitStatus
// =============================================================================

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name string
		code int
		err  error
		want int
	}{
		{"clean", 0, nil, 0},
		{"child failure", 7, nil, 7},
		{"signalled", 137, nil, 137},
		{"timeout", 137, &supervisor.TimeoutError{Process: "x", Timeout: time.Second}, ExitTimeout},
		{"interrupted", 143, fmt.Errorf("wait interrupted: %w", context.Canceled), ExitInterrupted},
		{"other", 0, errors.New("boom"), ExitSetupError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitStatus(tt.code, tt.err); got != tt.want {
				t.Errorf("exitStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestExitCodeLabel(t *testing.T) {
	for code, want := range map[int]string{0: "(clean)", 137: "(SIGKILL)", 143: "(SIGTERM)", 42: ""} {
		if got := exitCodeLabel(code); got != want {
			t.Errorf("exitCodeLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(61*time.Second + 250*time.Millisecond); got != "00:01:01.250" {
		t.Errorf("formatDuration = %q", got)
	}
}
