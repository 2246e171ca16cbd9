// Package command provides local and remote shell command execution
// with a uniform result contract: command failure and timeout are data,
// never errors, so callers branch only on Result.Success.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultTimeout is applied when a caller passes a zero timeout.
const DefaultTimeout = 5 * time.Minute

// Result represents the outcome of one command execution.
// ReturnCode is -1 when the command timed out or never started.
type Result struct {
	Success    bool          `json:"success"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ReturnCode int           `json:"returncode"`
	Elapsed    time.Duration `json:"-"`
	ElapsedS   float64       `json:"elapsed_s"`
}

// failure builds a failed Result with a descriptive stderr message.
func failure(start time.Time, code int, format string, args ...any) Result {
	elapsed := time.Since(start)
	return Result{
		Success:    false,
		Stderr:     fmt.Sprintf(format, args...),
		ReturnCode: code,
		Elapsed:    elapsed,
		ElapsedS:   elapsed.Seconds(),
	}
}

// Executor runs a shell command and reports the outcome as a Result.
// Implementations never return command failure through panics or
// errors; every failure mode is encoded in the Result.
type Executor interface {
	// Execute runs the command with the given timeout. A zero timeout
	// means DefaultTimeout.
	Execute(ctx context.Context, cmd string, timeout time.Duration) Result

	// Describe returns a short human-readable target description,
	// e.g. "local" or "ssh://ubuntu@10.0.0.12".
	Describe() string
}

// LocalExecutor runs commands on the local machine through a shell.
type LocalExecutor struct {
	// Dir is the working directory for commands; empty means inherited.
	Dir string
}

// NewLocalExecutor creates a local shell executor.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

// Execute runs cmd via "sh -c" with the given timeout.
func (e *LocalExecutor) Execute(ctx context.Context, cmd string, timeout time.Duration) Result {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(runCtx, "sh", "-c", cmd)
	execCmd.Dir = e.Dir

	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		slog.Warn("Command: Timed out", "target", e.Describe(), "timeout", timeout)
		return failure(start, -1, "command timed out after %s", timeout)
	}

	result := Result{
		Success:    err == nil,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ReturnCode: 0,
		Elapsed:    elapsed,
		ElapsedS:   elapsed.Seconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}

	return result
}

// Describe returns the executor target description.
func (e *LocalExecutor) Describe() string {
	return "local"
}
