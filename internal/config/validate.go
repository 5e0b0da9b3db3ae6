package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/randomizedcoder/procdrain/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or the joined ValidationErrors.
func Validate(cfg *Config) error {
	var errs []error

	// A command is required unless we only print the config
	if len(cfg.Command) == 0 && !cfg.PrintConfig {
		errs = append(errs, ValidationError{
			Field:   "command",
			Message: "a command to run is required (procdrain [flags] -- command [args...])",
		})
	}

	if cfg.Timeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must not be negative",
		})
	}

	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be positive",
		})
	}
	if cfg.Timeout > 0 && cfg.PollInterval > cfg.Timeout {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: fmt.Sprintf("must not exceed timeout (%v > %v)", cfg.PollInterval, cfg.Timeout),
		})
	}

	if cfg.DrainTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "drain_timeout",
			Message: "must be positive",
		})
	}

	if cfg.Grace < 0 {
		errs = append(errs, ValidationError{
			Field:   "grace",
			Message: "must not be negative",
		})
	}

	const minChunk, maxChunk = 512, 16 << 20
	if cfg.ChunkSize < minChunk || cfg.ChunkSize > maxChunk {
		errs = append(errs, ValidationError{
			Field:   "chunk_size",
			Message: fmt.Sprintf("must be between %d and %d bytes (got %d)", minChunk, maxChunk, cfg.ChunkSize),
		})
	}

	if cfg.Quiet && cfg.LogOutput {
		errs = append(errs, ValidationError{
			Field:   "log_output",
			Message: "cannot be combined with -quiet",
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: fmt.Sprintf("must be host:port (%v)", err),
			})
		}
	}

	if !logging.ValidFormat(cfg.LogFormat) {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error (got %q)", cfg.LogLevel),
		})
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EffectiveDrainTimeout never lets the post-exit drain outlast a bounded
// wait by more than the timeout itself.
func EffectiveDrainTimeout(cfg *Config) time.Duration {
	if cfg.Timeout > 0 && cfg.DrainTimeout > cfg.Timeout {
		return cfg.Timeout
	}
	return cfg.DrainTimeout
}
