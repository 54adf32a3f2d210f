package shellcmd_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-logsync/pkg/shellcmd"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) > 0 && strings.Contains(args[0], "fail") {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestRunCapturesOutput(t *testing.T) {
	inv := shellcmd.New(nil)

	out, err := inv.Run(context.Background(), "echo hello world", "test echo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "hello world" {
		t.Errorf("expected output 'hello world', got %q", out)
	}
}

func TestRunCapturesStderr(t *testing.T) {
	inv := shellcmd.New(nil)

	out, err := inv.Run(context.Background(), "echo to-stderr 1>&2", "test stderr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "to-stderr") {
		t.Errorf("expected stderr to be captured in combined output, got %q", out)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	inv := shellcmd.New(nil)

	out, err := inv.Run(context.Background(), "echo boom; exit 3", "test failure")
	if err == nil {
		t.Fatal("expected error for non-zero exit, got nil")
	}

	var execErr *shellcmd.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", execErr.ExitCode)
	}
	if execErr.Context != "test failure" {
		t.Errorf("expected context description in error, got %q", execErr.Context)
	}
	if !strings.Contains(execErr.Output, "boom") {
		t.Errorf("expected output to be captured on failure, got %q", execErr.Output)
	}
	if !strings.Contains(err.Error(), "test failure") {
		t.Errorf("error message should include the context description: %v", err)
	}
	if !strings.Contains(out, "boom") {
		t.Errorf("output should be returned alongside the error, got %q", out)
	}
}

func TestRunUsesInjectedCommandContext(t *testing.T) {
	var sawCommand string
	mock := func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		// Extract the command passed to the shell (-c on Unix, /C on Windows).
		if len(arg) > 1 {
			sawCommand = strings.Join(arg[1:], " ")
		}
		cs := []string{"-test.run=TestHelperProcess", "--", sawCommand}
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
		return cmd
	}

	inv := shellcmd.New(mock)
	if _, err := inv.Run(context.Background(), "some-tool --flag", "mocked run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawCommand != "some-tool --flag" {
		t.Errorf("expected injected commandContext to receive the command, got %q", sawCommand)
	}

	// A command the helper recognizes as failing must surface an ExecError.
	_, err := inv.Run(context.Background(), "fail-tool", "mocked failure")
	var execErr *shellcmd.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecError from helper failure, got %T: %v", err, err)
	}
	if execErr.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %d", execErr.ExitCode)
	}
}
