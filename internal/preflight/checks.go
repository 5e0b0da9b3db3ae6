// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fdsPerChild covers the two output pipes plus stdin, the reaper and the
// metrics listener.
const fdsPerChild = 8

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks for running command from dir.
func RunAll(command string, dir string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkCommand(command))
	add(checkFileDescriptors())
	add(checkProcessLimit())
	if dir != "" {
		add(checkDir(dir))
	}

	return result
}

// checkCommand verifies the command resolves to an executable.
func checkCommand(name string) Check {
	if name == "" {
		return Check{
			Name:    "command",
			Passed:  false,
			Message: "no command given",
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return Check{
			Name:    "command",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", name, err),
		}
	}

	return Check{
		Name:    "command",
		Passed:  true,
		Message: fmt.Sprintf("%s resolves to %s", name, path),
	}
}

// checkFileDescriptors verifies the pipes for one child can be opened.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Headroom for the runtime, stdio and anything the child inherits.
	required := fdsPerChild + 32
	actual := clampLimit(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkProcessLimit verifies there is room to fork one more process.
func checkProcessLimit() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NPROC, &limit); err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := 2 // the child plus a possible grandchild
	actual := clampLimit(limit.Cur)
	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// clampLimit converts an rlimit value to int. Unlimited (all bits set on
// Linux) and other huge values become a large sentinel.
func clampLimit(v uint64) int {
	const unlimited = 1000000
	if v > unlimited {
		return unlimited
	}
	return int(v)
}

// checkDir verifies the working directory exists.
func checkDir(dir string) Check {
	abs, _ := filepath.Abs(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return Check{
			Name:    "working_dir",
			Passed:  false,
			Message: err.Error(),
		}
	}
	if !info.IsDir() {
		return Check{
			Name:    "working_dir",
			Passed:  false,
			Message: fmt.Sprintf("%s is not a directory", abs),
		}
	}
	return Check{
		Name:    "working_dir",
		Passed:  true,
		Message: abs,
	}
}

// PrintResults prints the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "command":
		return "check the command name and $PATH, or pass an absolute path"
	case "working_dir":
		return "create the directory or fix -dir"
	default:
		return "see documentation"
	}
}
