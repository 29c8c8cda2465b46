// Package runner wraps external command execution for the backing runtimes.
// All strategy interaction with docker, helm, and the legacy service manager
// goes through a Runner so tests can substitute a fake and so secret values
// never reach the engineering log.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Result captures one external command invocation.
type Result struct {
	// Command is the redacted command line, safe for logging.
	Command string `json:"command"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`

	// ExitCode is the process exit code. -1 means the process never ran.
	ExitCode int `json:"exit_code"`

	// Duration is the wall time of the invocation.
	Duration time.Duration `json:"duration"`
}

// Succeeded returns true if the command exited zero.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Output returns trimmed standard output.
func (r *Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// CombinedTail returns the last maxLines lines of stdout and stderr combined,
// stderr last so the most recent error text survives truncation.
func (r *Result) CombinedTail(maxLines int) string {
	return Tail(strings.TrimSpace(r.Stdout+"\n"+r.Stderr), maxLines)
}

// Runner executes external binaries. Implementations must capture output and
// must not treat a non-zero exit as an execution error: callers decide what an
// exit code means for their phase.
type Runner interface {
	// Run executes name with args and captures output. The returned error is
	// non-nil only when the process could not be started at all (binary
	// missing, permission denied); a non-zero exit is reported via Result.
	Run(ctx context.Context, name string, args ...string) (*Result, error)

	// RunRedacted behaves like Run but replaces every occurrence of the
	// given secret values with a placeholder in the logged command line and
	// in Result.Command. The process still receives the real arguments.
	RunRedacted(ctx context.Context, secrets []string, name string, args ...string) (*Result, error)

	// LookPath reports the resolved path of a binary, or an error if it is
	// not on PATH.
	LookPath(name string) (string, error)
}

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a Runner that logs every invocation at debug level.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run implements Runner.
func (e *ExecRunner) Run(ctx context.Context, name string, args ...string) (*Result, error) {
	return e.RunRedacted(ctx, nil, name, args...)
}

// RunRedacted implements Runner.
func (e *ExecRunner) RunRedacted(ctx context.Context, secrets []string, name string, args ...string) (*Result, error) {
	logged := redactCommand(secrets, name, args)

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  logged,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
		Duration: duration,
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			result.ExitCode = -1
			e.logger.Debug().Str("command", logged).Err(err).Msg("Command failed to start")
			return result, fmt.Errorf("failed to execute %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	e.logger.Debug().
		Str("command", logged).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command completed")

	return result, nil
}

// LookPath implements Runner.
func (e *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// redactCommand renders a loggable command line with secret values masked.
func redactCommand(secrets []string, name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		for _, s := range secrets {
			if s == "" {
				continue
			}
			a = strings.ReplaceAll(a, s, "****")
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Tail returns the last maxLines lines of s. Empty input stays empty.
func Tail(s string, maxLines int) string {
	s = strings.TrimSpace(s)
	if s == "" || maxLines <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}
