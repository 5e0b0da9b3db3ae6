package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0 (unbounded)", cfg.Timeout)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval)
	}
	if cfg.DrainTimeout != 5*time.Second {
		t.Errorf("DrainTimeout = %v, want 5s", cfg.DrainTimeout)
	}
	if cfg.ChunkSize != 32*1024 {
		t.Errorf("ChunkSize = %d, want 32768", cfg.ChunkSize)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.Bounded() {
		t.Error("default config should use the unbounded wait")
	}
}

// =============================================================================
// ParseArgs
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "command after double dash",
			args: []string{"-quiet", "--", "sh", "-c", "echo hi"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.Quiet {
					t.Error("Quiet not set")
				}
				want := []string{"sh", "-c", "echo hi"}
				if strings.Join(cfg.Command, "|") != strings.Join(want, "|") {
					t.Errorf("Command = %q, want %q", cfg.Command, want)
				}
			},
		},
		{
			name: "first positional starts the command",
			args: []string{"-timeout", "2s", "sleep", "1"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Timeout != 2*time.Second {
					t.Errorf("Timeout = %v, want 2s", cfg.Timeout)
				}
				if len(cfg.Command) != 2 || cfg.Command[0] != "sleep" {
					t.Errorf("Command = %q", cfg.Command)
				}
				if !cfg.Bounded() {
					t.Error("Bounded() = false with a timeout")
				}
			},
		},
		{
			name: "command flags are not parsed",
			args: []string{"--", "ls", "-quiet"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Quiet {
					t.Error("-quiet after -- must belong to the command")
				}
			},
		},
		{
			name: "observability flags",
			args: []string{"-metrics", "127.0.0.1:0", "-metrics-dump", "-v", "-log-format", "json", "-tui", "true"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.MetricsAddr != "127.0.0.1:0" || !cfg.MetricsDump || !cfg.Verbose || !cfg.TUIEnabled {
					t.Errorf("unexpected config: %+v", cfg)
				}
				if cfg.LogFormat != "json" {
					t.Errorf("LogFormat = %q", cfg.LogFormat)
				}
			},
		},
		{
			name:    "bad duration",
			args:    []string{"-timeout", "soon", "true"},
			wantErr: true,
		},
		{
			name:    "unknown flag",
			args:    []string{"-nope", "true"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			cfg, err := ParseArgs(tt.args, &out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArgs: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := ParseArgs([]string{"-h"}, &out)
	if !errors.Is(err, ErrHelp) {
		t.Fatalf("err = %v, want ErrHelp", err)
	}

	usage := out.String()
	for _, want := range []string{"Usage:", "Waiting:", "-timeout duration", "-quiet", "Exit status:"} {
		if !strings.Contains(usage, want) {
			t.Errorf("usage missing %q\n%s", want, usage)
		}
	}
}

// =============================================================================
// Validate
// =============================================================================

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Command = []string{"true"}
	return cfg
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing command", func(c *Config) { c.Command = nil }, "command"},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }, "timeout"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval"},
		{"poll longer than timeout", func(c *Config) {
			c.Timeout = time.Second
			c.PollInterval = 2 * time.Second
		}, "poll_interval"},
		{"zero drain timeout", func(c *Config) { c.DrainTimeout = 0 }, "drain_timeout"},
		{"negative grace", func(c *Config) { c.Grace = -1 }, "grace"},
		{"tiny chunk", func(c *Config) { c.ChunkSize = 16 }, "chunk_size"},
		{"quiet and log output", func(c *Config) {
			c.Quiet = true
			c.LogOutput = true
		}, "log_output"},
		{"bad metrics addr", func(c *Config) { c.MetricsAddr = "9090" }, "metrics_addr"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error %v is not a ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestValidate_PrintConfigNeedsNoCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PrintConfig = true
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Command = nil
	cfg.DrainTimeout = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "command") || !strings.Contains(msg, "drain_timeout") {
		t.Errorf("joined error missing a field: %s", msg)
	}
}

func TestEffectiveDrainTimeout(t *testing.T) {
	cfg := validConfig()
	if got := EffectiveDrainTimeout(cfg); got != 5*time.Second {
		t.Errorf("unbounded: got %v, want 5s", got)
	}
	cfg.Timeout = time.Second
	if got := EffectiveDrainTimeout(cfg); got != time.Second {
		t.Errorf("bounded: got %v, want 1s", got)
	}
}
