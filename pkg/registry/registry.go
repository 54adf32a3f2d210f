// Package registry is the authoritative owner of the set of registered log
// sources. Every mutation runs under the top-level registry-domain file mutex
// and republishes the full projection of the current set through the sync
// configuration, so the generated pairs file always equals the registry
// snapshot that produced it.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paulschiretz/pgl-logsync/pkg/filemutex"
	"github.com/paulschiretz/pgl-logsync/pkg/hints"
	"github.com/paulschiretz/pgl-logsync/pkg/plog"
	"github.com/paulschiretz/pgl-logsync/pkg/syncconf"
	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

// LockFileName is the name of the registry-domain lock file created in the
// shared configuration directory.
const LockFileName = ".~pgl-logsync.registry.lock"

// ErrUnknownSource signals a deregistration of a name that is not registered.
// It is a hint: the desired end state already holds.
var ErrUnknownSource = hints.New("source is not registered")

// LogSource is one registered directory mapping. Name is the identity;
// registering an existing name replaces its directories.
type LogSource struct {
	Name      string
	LocalDir  string
	RemoteDir string
}

// Registry holds the registered sources and keeps the sync configuration's
// pairs file consistent with them.
type Registry struct {
	conf        *syncconf.Manager
	mu          *filemutex.Mutex
	lockTimeout time.Duration
	sources     map[string]LogSource
}

// New creates a Registry over the given sync configuration manager. The mutex
// must arbitrate the registry domain (LockFileName inside the shared
// configuration directory). A lockTimeout <= 0 selects filemutex.DefaultTimeout.
func New(conf *syncconf.Manager, mu *filemutex.Mutex, lockTimeout time.Duration) *Registry {
	return &Registry{
		conf:        conf,
		mu:          mu,
		lockTimeout: lockTimeout,
		sources:     make(map[string]LogSource),
	}
}

// Initialize brings the sync configuration to a known-good state under the
// registry-domain lock.
func (r *Registry) Initialize(ctx context.Context) error {
	return r.mu.WithLock(ctx, r.lockTimeout, func() error {
		return r.conf.Initialize(ctx)
	})
}

// Register adds the source, replacing any source of the same name, and
// republishes the projection. If publishing fails the registry rolls back to
// its previous state, so a failed Register leaves nothing half-applied.
func (r *Registry) Register(ctx context.Context, src LogSource) error {
	if src.Name == "" || src.LocalDir == "" || src.RemoteDir == "" {
		return fmt.Errorf("source name, local directory and remote directory must not be empty")
	}
	return r.mu.WithLock(ctx, r.lockTimeout, func() error {
		prev, existed := r.sources[src.Name]
		r.sources[src.Name] = src

		if err := r.conf.UpdateConf(ctx, r.pairs()); err != nil {
			if existed {
				r.sources[src.Name] = prev
			} else {
				delete(r.sources, src.Name)
			}
			return fmt.Errorf("failed to register source %s: %w", src.Name, err)
		}

		plog.Info("Source registered", "name", src.Name, "local", src.LocalDir, "remote", src.RemoteDir)
		return nil
	})
}

// Deregister removes the named source and republishes the projection. An
// unknown name returns ErrUnknownSource, a hint: the source is already absent
// and nothing was changed.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	return r.mu.WithLock(ctx, r.lockTimeout, func() error {
		prev, existed := r.sources[name]
		if !existed {
			plog.Info("Source is not registered, nothing to deregister", "name", name)
			return ErrUnknownSource
		}
		delete(r.sources, name)

		if err := r.conf.UpdateConf(ctx, r.pairs()); err != nil {
			r.sources[name] = prev
			return fmt.Errorf("failed to deregister source %s: %w", name, err)
		}

		plog.Info("Source deregistered", "name", name)
		return nil
	})
}

// Sources returns a snapshot of the registered sources, ordered by name.
func (r *Registry) Sources(ctx context.Context) ([]LogSource, error) {
	var snapshot []LogSource
	err := r.mu.WithLock(ctx, r.lockTimeout, func() error {
		for _, src := range r.sources {
			snapshot = append(snapshot, src)
		}
		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// pairs projects the full registered set into sync pairs, ordered by name so
// the generated file is deterministic. Local directories gain a trailing
// separator so the transfer tools mirror directory contents.
func (r *Registry) pairs() []syncconf.SyncPair {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]syncconf.SyncPair, 0, len(names))
	for _, name := range names {
		src := r.sources[name]
		pairs = append(pairs, syncconf.SyncPair{
			SourceDir: util.EnsureTrailingSlash(src.LocalDir),
			DestDir:   src.RemoteDir,
		})
	}
	return pairs
}
