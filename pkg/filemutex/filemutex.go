// Package filemutex provides a cross-process mutual-exclusion primitive backed
// by an advisory lock on a shared filesystem path. Processes that coordinate
// through the same lock-file path observe their critical sections in a total
// order; distinct paths form independent coordination domains.
package filemutex

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-logsync/pkg/plog"
	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

// DefaultTimeout bounds how long a caller waits for the lock when no explicit
// timeout is given. Domains expected to contend longer should pass their own.
const DefaultTimeout = 5 * time.Second

// TimeoutError is returned when the lock could not be acquired within the
// bounded wait.
type TimeoutError struct {
	Path    string
	Timeout time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock file %s", e.Timeout, e.Path)
}

// IOError is returned when the lock file itself could not be opened or locked.
type IOError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface for IOError.
func (e *IOError) Error() string {
	return fmt.Sprintf("lock file %s failed for %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *IOError) Unwrap() error { return e.Err }

// Mutex is a bounded-wait mutual-exclusion token tied to one lock-file path.
// In-process callers of the same Mutex instance queue on a process-local gate
// before the OS-level lock is attempted, so two goroutines never race each
// other for the same kernel lock.
//
// Acquisition is NOT re-entrant: nesting WithLock calls against the same lock
// path deadlocks by design.
type Mutex struct {
	path string
	gate chan struct{}
}

// Acquisition handoff states between the caller and the background lock attempt.
const (
	stateWaiting int32 = iota
	stateDelivered
	stateAbandoned
)

// New creates a Mutex for the given lock-file path.
func New(path string) *Mutex {
	return &Mutex{path: path, gate: make(chan struct{}, 1)}
}

// Path returns the lock-file path this mutex arbitrates on.
func (m *Mutex) Path() string { return m.path }

// WithLock acquires the lock, runs critical exactly once, and releases the
// lock. A timeout <= 0 selects DefaultTimeout; the timeout bounds the total
// wait (process-local gate plus OS-level lock). On every exit path the lock
// handle is released and closed and the lock file is removed best-effort.
// Errors from critical propagate after cleanup has run.
func (m *Mutex) WithLock(ctx context.Context, timeout time.Duration, critical func() error) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Process-local exclusion gate. Bounded by the same deadline as the
	// OS-level wait so the caller is never blocked longer than timeout.
	select {
	case m.gate <- struct{}{}:
	case <-timer.C:
		return &TimeoutError{Path: m.path, Timeout: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.gate }()

	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_RDWR, util.UserWritableFilePerms)
	if err != nil {
		return &IOError{Op: "open", Path: m.path, Err: err}
	}

	// The blocking lock request runs on its own goroutine so the wait can be
	// bounded. The request itself is not cancelable: if the caller times out
	// first, the attempt is abandoned and must undo its own eventual success.
	var state atomic.Int32
	acquired := make(chan error, 1)
	go func() {
		lockErr := lockExclusive(f)
		if state.CompareAndSwap(stateWaiting, stateDelivered) {
			acquired <- lockErr
			return
		}
		// The caller already gave up; the critical section must never run
		// against this late acquisition.
		if lockErr == nil {
			if err := unlock(f); err != nil {
				plog.Warn("Failed to release abandoned lock", "path", m.path, "error", err)
			}
		}
		if err := f.Close(); err != nil {
			plog.Warn("Failed to close abandoned lock file", "path", m.path, "error", err)
		}
		m.removeLockFile()
	}()

	var lockErr error
	select {
	case lockErr = <-acquired:
	case <-timer.C:
		if state.CompareAndSwap(stateWaiting, stateAbandoned) {
			return &TimeoutError{Path: m.path, Timeout: timeout}
		}
		// The lock arrived just as the timer fired; it is ours, use it.
		lockErr = <-acquired
	case <-ctx.Done():
		if state.CompareAndSwap(stateWaiting, stateAbandoned) {
			return ctx.Err()
		}
		lockErr = <-acquired
	}

	if lockErr != nil {
		if err := f.Close(); err != nil {
			plog.Warn("Failed to close lock file", "path", m.path, "error", err)
		}
		m.removeLockFile()
		return &IOError{Op: "lock", Path: m.path, Err: lockErr}
	}

	defer func() {
		if err := unlock(f); err != nil {
			plog.Warn("Failed to release file lock", "path", m.path, "error", err)
		}
		if err := f.Close(); err != nil {
			plog.Warn("Failed to close lock file", "path", m.path, "error", err)
		}
		m.removeLockFile()
	}()

	return critical()
}

// removeLockFile deletes the lock file. Removal is best-effort: a leftover
// file only delays the next acquisition, it does not break exclusion.
func (m *Mutex) removeLockFile() {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Failed to remove lock file", "path", m.path, "error", err)
	}
}
