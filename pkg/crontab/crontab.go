// Package crontab adapts the host's periodic-scheduler table (the per-user
// crontab) as a line-oriented external store. Every operation serializes
// through a scheduler-domain file mutex so concurrent processes sharing a
// configuration location never interleave table rewrites.
package crontab

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-logsync/pkg/filemutex"
	"github.com/paulschiretz/pgl-logsync/pkg/plog"
	"github.com/paulschiretz/pgl-logsync/pkg/shellcmd"
)

// LockFileName is the name of the scheduler-domain lock file created in the
// shared configuration directory. The '~' prefix marks it as temporary.
const LockFileName = ".~pgl-logsync.crontab.lock"

// DefaultLockTimeout bounds the wait for the scheduler-domain lock. It is
// longer than the global default because external crontab invocations happen
// while the lock is held.
const DefaultLockTimeout = 15 * time.Second

// entrySeparator separates the timing expression from the command in a table
// line. The width matches what existing installed tables contain.
const entrySeparator = "     "

// Result is the outcome of a scheduler-table mutation. Table mutations are
// best-effort relative to the authoritative registry state: callers log a
// failed Result and discard it instead of propagating.
type Result struct {
	err error
}

func applied() Result         { return Result{} }
func failed(err error) Result { return Result{err: err} }

// Ok reports whether the mutation was applied.
func (r Result) Ok() bool { return r.err == nil }

// Err returns the failure reason, or nil if the mutation was applied.
func (r Result) Err() error { return r.err }

// Table lists, inserts and removes entries in the external scheduler table.
type Table struct {
	inv         *shellcmd.Invoker
	mu          *filemutex.Mutex
	crontabCmd  string
	lockTimeout time.Duration
}

// New creates a Table that drives the system `crontab` binary, serialized
// through the given scheduler-domain mutex.
func New(inv *shellcmd.Invoker, mu *filemutex.Mutex) *Table {
	return &Table{
		inv:         inv,
		mu:          mu,
		crontabCmd:  "crontab",
		lockTimeout: DefaultLockTimeout,
	}
}

// WithCommand overrides the crontab binary, primarily for testing.
func (t *Table) WithCommand(cmd string) *Table {
	t.crontabCmd = cmd
	return t
}

// WithLockTimeout overrides the scheduler-domain lock timeout.
func (t *Table) WithLockTimeout(timeout time.Duration) *Table {
	t.lockTimeout = timeout
	return t
}

// List returns the current table lines in order. A missing or unreadable
// table yields an empty result: table absence models "nothing scheduled yet",
// not an error state.
func (t *Table) List(ctx context.Context) []string {
	var lines []string
	err := t.mu.WithLock(ctx, t.lockTimeout, func() error {
		lines = t.readTable(ctx)
		return nil
	})
	if err != nil {
		plog.Warn("Could not lock scheduler table for listing", "error", err)
		return nil
	}
	return lines
}

// Add appends a line scheduling command at the given interval. With replace,
// any existing line containing command as a substring is removed first, so at
// most one entry per command remains. The whole updated table is installed in
// a single external replace; on failure the prior table stays unchanged.
func (t *Table) Add(ctx context.Context, command string, iv Interval, replace bool) Result {
	if err := iv.Validate(); err != nil {
		return failed(err)
	}
	entry := iv.Spec() + entrySeparator + command

	var res Result
	lockErr := t.mu.WithLock(ctx, t.lockTimeout, func() error {
		lines := t.readTable(ctx)
		if replace {
			lines = dropMatching(lines, command)
		}
		lines = append(lines, entry)
		res = t.writeTable(ctx, lines)
		return nil
	})
	if lockErr != nil {
		return failed(lockErr)
	}
	return res
}

// Remove deletes every line containing command as a substring. Removing a
// command with no matching lines is a logged no-op.
func (t *Table) Remove(ctx context.Context, command string) Result {
	var res Result
	lockErr := t.mu.WithLock(ctx, t.lockTimeout, func() error {
		lines := t.readTable(ctx)
		kept := dropMatching(lines, command)
		if len(kept) == len(lines) {
			plog.Info("No scheduler entries matched command", "command", command)
			res = applied()
			return nil
		}
		res = t.writeTable(ctx, kept)
		return nil
	})
	if lockErr != nil {
		return failed(lockErr)
	}
	return res
}

// ClearAll wipes the entire scheduler table.
func (t *Table) ClearAll(ctx context.Context) Result {
	var res Result
	lockErr := t.mu.WithLock(ctx, t.lockTimeout, func() error {
		if _, err := t.inv.Run(ctx, t.crontabCmd+" -r", "clear scheduler table"); err != nil {
			res = failed(err)
			return nil
		}
		res = applied()
		return nil
	})
	if lockErr != nil {
		return failed(lockErr)
	}
	return res
}

// IsPresent reports whether any current table line contains command as a
// substring. Substring matching lets one logical command be identified even
// though its exact scheduling line varies by timing expression.
func (t *Table) IsPresent(ctx context.Context, command string) bool {
	for _, line := range t.List(ctx) {
		if strings.Contains(line, command) {
			return true
		}
	}
	return false
}

// readTable queries the external table. Must be called with the lock held.
func (t *Table) readTable(ctx context.Context) []string {
	out, err := t.inv.Run(ctx, t.crontabCmd+" -l", "query scheduler table")
	if err != nil {
		// Typically "no crontab for <user>"; the empty table.
		plog.Debug("Scheduler table query failed, treating as empty", "error", err)
		return nil
	}
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// writeTable stages the lines in a temporary file and installs it as the new
// table in one external replace operation. Must be called with the lock held.
func (t *Table) writeTable(ctx context.Context, lines []string) Result {
	tmp, err := os.CreateTemp("", "pgl-logsync-crontab-*.tmp")
	if err != nil {
		return failed(fmt.Errorf("failed to stage scheduler table: %w", err))
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove staged scheduler table", "path", tmp.Name(), "error", err)
		}
	}()

	var content string
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return failed(fmt.Errorf("failed to write staged scheduler table: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return failed(fmt.Errorf("failed to close staged scheduler table: %w", err))
	}

	if _, err := t.inv.Run(ctx, fmt.Sprintf("%s %q", t.crontabCmd, tmp.Name()), "install scheduler table"); err != nil {
		return failed(err)
	}
	return applied()
}

// dropMatching returns the lines that do NOT contain command as a substring.
func dropMatching(lines []string, command string) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if !strings.Contains(line, command) {
			kept = append(kept, line)
		}
	}
	return kept
}
