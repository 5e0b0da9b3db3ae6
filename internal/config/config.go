// Package config provides configuration management for procdrain.
package config

import "time"

// Config holds all configuration options for one supervised run.
type Config struct {
	// Command
	Command []string `json:"command"`
	Dir     string   `json:"dir"`

	// Waiting
	Timeout      time.Duration `json:"timeout"` // 0 = wait until exit
	PollInterval time.Duration `json:"poll_interval"`
	DrainTimeout time.Duration `json:"drain_timeout"`
	Grace        time.Duration `json:"grace"` // SIGTERM -> SIGKILL on interrupt

	// Output handling
	Quiet     bool `json:"quiet"`      // drain and discard
	LogOutput bool `json:"log_output"` // route lines through the logger
	ChunkSize int  `json:"chunk_size"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	MetricsDump bool   `json:"metrics_dump"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`

	// Dashboard
	TUIEnabled bool `json:"tui_enabled"`

	// Diagnostics
	PrintConfig   bool `json:"print_config"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      0, // Unbounded
		PollInterval: 100 * time.Millisecond,
		DrainTimeout: 5 * time.Second,
		Grace:        5 * time.Second,

		ChunkSize: 32 * 1024,

		MetricsAddr: "",
		LogFormat:   "text",
		LogLevel:    "info",
	}
}

// Bounded reports whether the run uses a timeout-bounded wait.
func (c *Config) Bounded() bool {
	return c.Timeout > 0
}
