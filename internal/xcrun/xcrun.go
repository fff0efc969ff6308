// Package xcrun runs Xcode command-line tools (xcodebuild, simctl)
// and captures their output. Tool handlers depend on the Runner
// interface so tests can substitute canned results for real processes.
package xcrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the captured outcome of one command invocation.
type Result struct {
	// Command is the full command line, for echo-back in responses.
	Command string
	// Stdout and Stderr are the captured output streams.
	Stdout string
	Stderr string
	// ExitCode is the process exit code; 0 on success.
	ExitCode int
	// Duration is wall-clock time from start to exit.
	Duration time.Duration
}

// Runner executes external commands.
type Runner interface {
	// Run executes name with args, honoring ctx cancellation.
	// A non-zero exit is reported through Result.ExitCode, not err;
	// err is reserved for failures to run at all (binary missing,
	// context canceled before exit).
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands via os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by real processes.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  FormatCommand(name, args),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("command %s: %w", name, ctxErr)
		}
		return res, fmt.Errorf("command %s: %w", name, err)
	}
	return res, nil
}

// FormatCommand renders a command line the way a user would type it.
func FormatCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", a))
		} else {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}
