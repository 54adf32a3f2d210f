// Package syncconf owns the generated sync artifacts in the shared
// configuration directory: the transfer script, the transfer-tool credentials
// file and the source/destination pairs file. All artifact mutations and sync
// runs serialize through a configuration-domain file mutex shared across
// processes.
package syncconf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/paulschiretz/pgl-logsync/pkg/crontab"
	"github.com/paulschiretz/pgl-logsync/pkg/filemutex"
	"github.com/paulschiretz/pgl-logsync/pkg/plog"
	"github.com/paulschiretz/pgl-logsync/pkg/runlog"
	"github.com/paulschiretz/pgl-logsync/pkg/shellcmd"
	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

const (
	// LockFileName is the name of the configuration-domain lock file created
	// in the shared configuration directory.
	LockFileName = ".~pgl-logsync.conf.lock"

	// ScriptFileName is the generated transfer script.
	ScriptFileName = "s3sync.sh"
	// CredentialsFileName is the generated transfer-tool credentials file.
	CredentialsFileName = ".s3cfg"
	// PairsFileName is the generated source/destination pairs file. The
	// transfer script picks it up by its *.logsync.conf suffix.
	PairsFileName = "sources.logsync.conf"

	// runLogDirName holds the archived output of past sync runs.
	runLogDirName = "runs"
)

// Credentials are the object-store access keys templated into the generated
// credentials file.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// SyncPair is one line of the pairs file: a local source directory mirrored
// into a destination. SourceDir must carry a trailing path separator so the
// transfer tools mirror the directory's contents rather than the directory
// itself.
type SyncPair struct {
	SourceDir string
	DestDir   string
}

// Config carries the construction parameters for a Manager.
type Config struct {
	// ConfDir is the shared configuration directory all artifacts live in.
	ConfDir string
	// Credentials are written into the generated credentials file.
	Credentials Credentials
	// Interval schedules the periodic sync run.
	Interval crontab.Interval
	// LockTimeout bounds the wait for the configuration-domain lock.
	// Zero selects filemutex.DefaultTimeout.
	LockTimeout time.Duration
	// KeepRunLogs caps the number of archived sync run outputs.
	// Zero selects runlog.DefaultKeep.
	KeepRunLogs int
}

// Manager generates and maintains the sync artifacts and drives sync runs.
type Manager struct {
	confDir     string
	creds       Credentials
	interval    crontab.Interval
	lockTimeout time.Duration

	inv   *shellcmd.Invoker
	table *crontab.Table
	mu    *filemutex.Mutex
	runs  *runlog.Store

	// syncGroup collapses concurrent in-process sync requests into one run.
	syncGroup singleflight.Group
}

// New creates a Manager over the given configuration directory. The mutex must
// arbitrate the configuration domain (LockFileName inside cfg.ConfDir); the
// crontab table carries its own scheduler-domain mutex.
func New(cfg Config, inv *shellcmd.Invoker, table *crontab.Table, mu *filemutex.Mutex) (*Manager, error) {
	if cfg.ConfDir == "" {
		return nil, fmt.Errorf("configuration directory must not be empty")
	}
	if err := cfg.Interval.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sync interval: %w", err)
	}
	return &Manager{
		confDir:     cfg.ConfDir,
		creds:       cfg.Credentials,
		interval:    cfg.Interval,
		lockTimeout: cfg.LockTimeout,
		inv:         inv,
		table:       table,
		mu:          mu,
		runs:        runlog.New(filepath.Join(cfg.ConfDir, runLogDirName), cfg.KeepRunLogs),
	}, nil
}

// ScriptPath returns the absolute path of the generated transfer script.
func (m *Manager) ScriptPath() string { return filepath.Join(m.confDir, ScriptFileName) }

// CredentialsPath returns the absolute path of the generated credentials file.
func (m *Manager) CredentialsPath() string { return filepath.Join(m.confDir, CredentialsFileName) }

// PairsPath returns the absolute path of the generated pairs file.
func (m *Manager) PairsPath() string { return filepath.Join(m.confDir, PairsFileName) }

// SyncCommand is the exact command line the scheduler runs: the transfer
// script invoked with the configuration directory and the credentials file.
// The same string identifies the scheduler entry for replace and remove.
func (m *Manager) SyncCommand() string {
	return fmt.Sprintf("%s %s %s", m.ScriptPath(), m.confDir, m.CredentialsPath())
}

// Initialize brings the configuration directory to a known-good state: the
// directory exists, the credentials file and transfer script are regenerated
// from their templates, and the periodic sync is scheduled. Regeneration is
// unconditional, so stale or hand-edited artifacts never survive. A scheduler
// failure is logged, not fatal: artifacts on disk stay usable and the next
// Initialize retries the scheduling.
func (m *Manager) Initialize(ctx context.Context) error {
	return m.mu.WithLock(ctx, m.lockTimeout, func() error {
		return m.initializeLocked(ctx)
	})
}

func (m *Manager) initializeLocked(ctx context.Context) error {
	if err := os.MkdirAll(m.confDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create configuration directory %s: %w", m.confDir, err)
	}
	if err := m.writeCredentials(); err != nil {
		return err
	}
	if err := m.writeScript(); err != nil {
		return err
	}

	if res := m.table.Add(ctx, m.SyncCommand(), m.interval, true); !res.Ok() {
		plog.Warn("Could not schedule the periodic sync; configuration artifacts are in place", "error", res.Err())
	}

	plog.Info("Sync configuration initialized", "dir", m.confDir)
	return nil
}

// writeCredentials regenerates the credentials file. The previous file is
// removed first so the new one is created fresh with owner-only permissions.
func (m *Manager) writeCredentials() error {
	path := m.CredentialsPath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous credentials file: %w", err)
	}
	content := fmt.Sprintf(s3cfgTemplate, m.creds.AccessKey, m.creds.SecretKey)
	if err := os.WriteFile(path, []byte(content), util.UserOnlyFilePerms); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// writeScript regenerates the transfer script and marks it executable.
func (m *Manager) writeScript() error {
	path := m.ScriptPath()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous transfer script: %w", err)
	}
	if err := os.WriteFile(path, []byte(syncScript), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write transfer script: %w", err)
	}
	if err := os.Chmod(path, util.WithUserExecutePermission(util.UserWritableFilePerms)); err != nil {
		return fmt.Errorf("failed to mark transfer script executable: %w", err)
	}
	return nil
}

// UpdateConf replaces the pairs file with the given set. If a previous pairs
// file exists, a sync run is flushed against it first so pending changes reach
// their old destinations before the mapping switches; a failed flush aborts
// the update and leaves the old file in place. An empty set produces a valid
// empty pairs file, which the transfer script treats as "nothing to do".
func (m *Manager) UpdateConf(ctx context.Context, pairs []SyncPair) error {
	return m.mu.WithLock(ctx, m.lockTimeout, func() error {
		return m.updateConfLocked(ctx, pairs)
	})
}

func (m *Manager) updateConfLocked(ctx context.Context, pairs []SyncPair) error {
	if err := os.MkdirAll(m.confDir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create configuration directory %s: %w", m.confDir, err)
	}

	path := m.PairsPath()
	if _, err := os.Stat(path); err == nil {
		plog.Info("Flushing pending sync against the previous configuration")
		if err := m.runSyncLocked(ctx); err != nil {
			return fmt.Errorf("flush of previous sync configuration failed: %w", err)
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove previous pairs file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect pairs file: %w", err)
	}

	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "%s %s\n", p.SourceDir, p.DestDir)
	}
	if err := os.WriteFile(path, []byte(b.String()), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write pairs file: %w", err)
	}

	plog.Info("Sync configuration updated", "pairs", len(pairs))
	return nil
}

// RunSync executes the transfer script against the current pairs file, exactly
// as the scheduler would. Concurrent in-process callers collapse into a single
// run and share its result; the configuration-domain lock keeps the run from
// overlapping artifact rewrites in other processes.
func (m *Manager) RunSync(ctx context.Context) error {
	_, err, _ := m.syncGroup.Do(m.confDir, func() (interface{}, error) {
		return nil, m.mu.WithLock(ctx, m.lockTimeout, func() error {
			return m.runSyncLocked(ctx)
		})
	})
	return err
}

// runSyncLocked runs the sync command and archives its output. Must be called
// with the configuration-domain lock held.
func (m *Manager) runSyncLocked(ctx context.Context) error {
	startedAt := time.Now()
	out, err := m.inv.Run(ctx, m.SyncCommand(), "directory sync run")

	archive := out
	if err != nil {
		archive += "\nsync failed: " + err.Error() + "\n"
	}
	if _, logErr := m.runs.Write(startedAt, archive); logErr != nil {
		plog.Warn("Failed to archive sync run output", "error", logErr)
	}

	if err != nil {
		return err
	}
	plog.Info("Sync run completed", "command", m.SyncCommand())
	return nil
}
