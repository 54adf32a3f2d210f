// Package shellcmd runs external commands through the system shell and reports
// their combined output and exit status. It performs no retries; callers decide
// whether a failure is fatal or merely logged.
package shellcmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExecError is returned when an external command exits with a non-zero status.
// It carries the combined output so callers can log or surface it.
type ExecError struct {
	Command  string
	Context  string
	Output   string
	ExitCode int
	Err      error
}

// Error implements the error interface for ExecError.
func (e *ExecError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: command %q exited with code %d", e.Context, e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: command %q exited with code %d: %s", e.Context, e.Command, e.ExitCode, out)
}

// Unwrap exposes the underlying exec error.
func (e *ExecError) Unwrap() error { return e.Err }

// Invoker executes shell commands synchronously.
type Invoker struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// New creates a new Invoker. Passing nil uses the real os/exec implementation.
func New(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *Invoker {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &Invoker{commandContext: commandContext}
}

// Run executes command through the shell and blocks until it completes.
// contextDescription names the operation for error reporting. The combined
// stdout/stderr output is always returned, even on failure.
func (i *Invoker) Run(ctx context.Context, command, contextDescription string) (string, error) {
	cmd := i.createCommand(ctx, command)

	out, err := cmd.CombinedOutput()
	if err != nil {
		// Check if the context was canceled, which can cause cmd.Wait() to return
		// an error. If so, we return the context's error to be more specific.
		if ctx.Err() == context.Canceled {
			return string(out), context.Canceled
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return string(out), &ExecError{
			Command:  command,
			Context:  contextDescription,
			Output:   string(out),
			ExitCode: exitCode,
			Err:      err,
		}
	}
	return string(out), nil
}
