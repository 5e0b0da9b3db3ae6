package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

// ErrHelp is returned by ParseArgs when -h or -help was given.
var ErrHelp = flag.ErrHelp

const usageHeader = `procdrain - run a command, drain its stdout/stderr, wait for its exit

Usage:
  procdrain [flags] -- command [args...]

`

const usageFooter = `
Exit status:
  The command's exit code; 124 if -timeout killed it; 130 if interrupted;
  1 if procdrain itself failed.

Examples:
  # Forward output, wait as long as it takes
  procdrain -- make test

  # Discard output, kill after 30s
  procdrain -quiet -timeout 30s -- ./noisy-server

  # Live dashboard with Prometheus metrics
  procdrain -tui -metrics 127.0.0.1:9464 -- ./batch-job
`

// ParseArgs parses command-line arguments (without the program name) into
// a Config. Usage and flag errors go to output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("procdrain", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, usageHeader)
		printFlagCategory(fs, output, "Waiting:", []string{"timeout", "poll-interval", "drain-timeout", "grace"})
		printFlagCategory(fs, output, "Output:", []string{"quiet", "log-output", "chunk-size", "dir"})
		printFlagCategory(fs, output, "Observability:", []string{"metrics", "metrics-dump", "v", "log-format", "log-level", "tui"})
		printFlagCategory(fs, output, "Diagnostics:", []string{"print-config", "skip-preflight"})
		fmt.Fprint(output, usageFooter)
	}

	// Waiting
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Kill the command if it runs longer than this (0 = no limit)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Exit check interval for -timeout")
	fs.DurationVar(&cfg.DrainTimeout, "drain-timeout", cfg.DrainTimeout, "How long to keep draining after exit before giving up")
	fs.DurationVar(&cfg.Grace, "grace", cfg.Grace, "SIGTERM to SIGKILL delay when procdrain is interrupted")

	// Output
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "Drain and discard the command's output")
	fs.BoolVar(&cfg.LogOutput, "log-output", cfg.LogOutput, "Log output lines instead of forwarding them")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Read buffer size per stream in bytes")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Working directory for the command")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Serve Prometheus metrics on this address (empty = disabled)")
	fs.BoolVar(&cfg.MetricsDump, "metrics-dump", cfg.MetricsDump, "Print final metrics to stderr on exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live terminal dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.PrintConfig, "print-config", cfg.PrintConfig, "Print the effective configuration as JSON and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, ErrHelp
		}
		return nil, err
	}

	// Everything after the flags (and after "--") is the command.
	cfg.Command = append([]string(nil), fs.Args()...)
	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, title string, names []string) {
	fmt.Fprintln(w, title)
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); ok && bf.IsBoolFlag() {
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
