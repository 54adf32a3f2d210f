// Package runlog archives the captured output of sync runs as compressed log
// files under the configuration directory, with count-based pruning.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-logsync/pkg/hints"
	"github.com/paulschiretz/pgl-logsync/pkg/util"
)

const (
	filePrefix = "run-"
	fileSuffix = ".log.gz"
	// timeLayout sorts lexicographically, so List order equals run order.
	timeLayout = "20060102T150405.000000000"
)

// ErrNothingToPrune signals that pruning found no runs beyond the keep count.
var ErrNothingToPrune = hints.New("nothing to prune")

// DefaultKeep is the number of run logs retained when none is configured.
const DefaultKeep = 30

// Store writes and reads compressed run logs in a single directory.
type Store struct {
	dir  string
	keep int
}

// New creates a Store rooted at dir, keeping at most keep runs. A keep <= 0
// selects DefaultKeep.
func New(dir string, keep int) *Store {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Store{dir: dir, keep: keep}
}

// Dir returns the directory the store writes into.
func (s *Store) Dir() string { return s.dir }

// Write archives one run's output and returns the created file name. Older
// runs beyond the keep count are pruned afterwards.
func (s *Store) Write(startedAt time.Time, output string) (string, error) {
	if err := os.MkdirAll(s.dir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create run log directory: %w", err)
	}

	name := filePrefix + startedAt.UTC().Format(timeLayout) + fileSuffix
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.UserWritableFilePerms)
	if err != nil {
		return "", fmt.Errorf("failed to create run log: %w", err)
	}

	zw := pgzip.NewWriter(f)
	if _, err := zw.Write([]byte(output)); err != nil {
		zw.Close()
		f.Close()
		return "", fmt.Errorf("failed to write run log: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to finalize run log: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close run log: %w", err)
	}

	if err := s.Prune(s.keep); err != nil && !hints.Is(err, ErrNothingToPrune) {
		return name, err
	}
	return name, nil
}

// Read returns the decompressed content of the named run log.
func (s *Store) Read(name string) (string, error) {
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("failed to read run log header: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("failed to decompress run log: %w", err)
	}
	return string(data), nil
}

// List returns the run log file names, oldest first.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run log directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Prune removes the oldest run logs until at most keep remain. It returns
// ErrNothingToPrune (a hint) when nothing had to be removed.
func (s *Store) Prune(keep int) error {
	if keep <= 0 {
		keep = s.keep
	}
	names, err := s.List()
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return ErrNothingToPrune
	}

	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune run log %s: %w", name, err)
		}
	}
	return nil
}
