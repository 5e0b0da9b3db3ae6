// Package main provides the procdrain CLI entry point.
//
// procdrain runs a command, drains its stdout and stderr while it runs so
// it can never block on a full pipe, and exits with the command's status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/randomizedcoder/procdrain/internal/config"
	"github.com/randomizedcoder/procdrain/internal/logging"
	"github.com/randomizedcoder/procdrain/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/procdrain
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Handle version flag early (before flag parsing). A bare "version" is
	// a command name like any other.
	if len(args) > 0 {
		arg := args[0]
		if arg == "-version" || arg == "--version" {
			fmt.Printf("procdrain %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseArgs(args, os.Stderr)
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			return 0
		}
		// The flag package has already printed the error and usage.
		return orchestrator.ExitSetupError
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return orchestrator.ExitSetupError
	}

	if cfg.PrintConfig {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
			return orchestrator.ExitSetupError
		}
		return 0
	}

	if cfg.TUIEnabled && !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "Warning: -tui needs a terminal on stdout, continuing without it")
		cfg.TUIEnabled = false
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	logger.Debug("starting",
		"version", version,
		"command", cfg.Command,
		"timeout", cfg.Timeout.String(),
		"quiet", cfg.Quiet,
		"metrics_addr", cfg.MetricsAddr,
	)

	orch := orchestrator.New(cfg, logger, orchestrator.Options{Version: version})
	code, err := orch.Run(context.Background())
	if err != nil {
		logger.Error("run_failed", "error", err, "exit_code", code)
	}
	return code
}
