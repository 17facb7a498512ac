package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single command execution.
const DefaultCommandTimeout = time.Hour

// Executor runs job commands through the shell with a bounded timeout and
// captured output. It never interprets command semantics beyond
// success/failure.
type Executor struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor creates an Executor. A non-positive timeout falls back to
// DefaultCommandTimeout.
func NewExecutor(timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Executor{timeout: timeout, logger: logger}
}

// Run executes command via `sh -c`. On success it returns captured stdout.
// On failure the returned error describes what went wrong: non-zero exit
// with captured stderr, a timeout marker, or an invocation error.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command execution timeout (%s)", e.timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("command failed with exit code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("error executing command: %w", err)
	}

	e.logger.Debug("command finished",
		slog.Duration("elapsed", elapsed),
	)

	return stdout.String(), nil
}
