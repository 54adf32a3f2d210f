//go:build windows

package shellcmd

import (
	"context"
	"os/exec"

	"golang.org/x/sys/windows"
)

// createCommand creates an exec.Cmd for a shell command on Windows.
func (i *Invoker) createCommand(ctx context.Context, command string) *exec.Cmd {
	cmd := i.commandContext(ctx, "cmd", "/C", command)
	// On Windows, create a new process group to ensure that when the context is
	// canceled, the entire process tree is terminated, not just the parent cmd.
	cmd.SysProcAttr = &windows.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
	return cmd
}
