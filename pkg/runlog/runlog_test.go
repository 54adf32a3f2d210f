package runlog

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-logsync/pkg/hints"
)

func TestWriteAndRead(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "runs"), 10)

	output := "synced 42 files\nskipped 1 missing source\n"
	name, err := store.Write(time.Date(2026, 8, 27, 10, 30, 0, 0, time.UTC), output)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !strings.HasPrefix(name, "run-20260827T103000") || !strings.HasSuffix(name, ".log.gz") {
		t.Errorf("unexpected run log name: %q", name)
	}

	got, err := store.Read(name)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got != output {
		t.Errorf("round trip mismatch: got %q, want %q", got, output)
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "runs"), 10)

	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.Write(base.Add(time.Duration(i)*time.Minute), "run"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 run logs, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("run logs out of order: %q before %q", names[i-1], names[i])
		}
	}
}

func TestWritePrunesBeyondKeep(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "runs"), 2)

	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if _, err := store.Write(base.Add(time.Duration(i)*time.Second), "run"); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	names, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 run logs after pruning, got %d: %v", len(names), names)
	}
	// The newest runs survive.
	if !strings.Contains(names[len(names)-1], "120004") {
		t.Errorf("expected the newest run to survive pruning, got %v", names)
	}
}

func TestPruneNothingToDo(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "runs"), 10)

	if _, err := store.Write(time.Now(), "only run"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	err := store.Prune(10)
	if !hints.Is(err, ErrNothingToPrune) {
		t.Errorf("expected ErrNothingToPrune hint, got %v", err)
	}
}

func TestListMissingDirectory(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "never-created"), 10)
	names, err := store.List()
	if err != nil {
		t.Fatalf("List on a missing directory should not fail: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no run logs, got %v", names)
	}
}
