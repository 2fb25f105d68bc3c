// Package procio holds the engine's external-tool adapters: thin wrappers
// around subprocess execution, rsync invocations, and the annotation file
// read/write contract every rule executor uses to publish its output, per
// §4.G. None of these types carry pipeline semantics of their own; they
// exist so pkg/schedule.Executor implementations have one place to get
// retryable subprocess calls and an atomic-publish helper instead of
// reinventing os/exec plumbing per processor.
package procio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sparv-lang/engine/internal/engineerr"
)

// LookupBinary resolves name on PATH, wrapping the standard library's
// exec.LookPath failure as engineerr.ErrUserError so CLI
// verbs like "setup --check" can report it uniformly.
func LookupBinary(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH", engineerr.ErrUserError, name)
	}
	return path, nil
}

// Result captures a finished subprocess invocation's output for logging and
// error reporting.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args once, capturing stdout/stderr. A non-zero
// exit is reported as a *RetryableError so callers can compose it with
// Retry; a missing binary or context cancellation is returned unwrapped.
func Run(ctx context.Context, dir, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, &RetryableError{Err: fmt.Errorf("%s: exit %d: %s", name, res.ExitCode, stderr.String())}
	}
	return res, fmt.Errorf("%s: %w", name, err)
}

// RunWithRetry runs name up to attempts times with exponential backoff
// starting at delay, retrying only on a non-zero exit (never on a missing
// binary or a cancelled context), grounded on the teacher's
// pkg/httputil.Retry generalized from HTTP calls to subprocess invocations.
func RunWithRetry(ctx context.Context, attempts int, delay time.Duration, dir, name string, args ...string) (Result, error) {
	var res Result
	err := Retry(ctx, attempts, delay, func() error {
		var runErr error
		res, runErr = Run(ctx, dir, name, args...)
		return runErr
	})
	return res, err
}
