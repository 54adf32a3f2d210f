package registry_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulschiretz/pgl-logsync/pkg/crontab"
	"github.com/paulschiretz/pgl-logsync/pkg/filemutex"
	"github.com/paulschiretz/pgl-logsync/pkg/hints"
	"github.com/paulschiretz/pgl-logsync/pkg/registry"
	"github.com/paulschiretz/pgl-logsync/pkg/shellcmd"
	"github.com/paulschiretz/pgl-logsync/pkg/syncconf"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	fmt.Println("ok")
	os.Exit(0)
}

// mockExec routes every external command to the always-succeeding helper
// process, so flush runs and crontab installs never touch the host.
func mockExec(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--"}
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func newTestRegistry(t *testing.T) (*registry.Registry, *syncconf.Manager) {
	t.Helper()
	confDir := filepath.Join(t.TempDir(), "conf")
	// The lock files live inside the configuration directory.
	if err := os.MkdirAll(confDir, 0755); err != nil {
		t.Fatalf("failed to create conf dir: %v", err)
	}
	inv := shellcmd.New(mockExec)
	table := crontab.New(inv, filemutex.New(filepath.Join(confDir, crontab.LockFileName)))

	conf, err := syncconf.New(syncconf.Config{
		ConfDir:     confDir,
		Credentials: syncconf.Credentials{AccessKey: "ak", SecretKey: "sk"},
		Interval:    crontab.Interval{Every: 5, Unit: crontab.Minutes},
	}, inv, table, filemutex.New(filepath.Join(confDir, syncconf.LockFileName)))
	if err != nil {
		t.Fatalf("syncconf.New failed: %v", err)
	}

	reg := registry.New(conf, filemutex.New(filepath.Join(confDir, registry.LockFileName)), 0)
	return reg, conf
}

func pairsFileLines(t *testing.T, conf *syncconf.Manager) []string {
	t.Helper()
	data, err := os.ReadFile(conf.PairsPath())
	if err != nil {
		t.Fatalf("failed to read pairs file: %v", err)
	}
	content := strings.TrimRight(string(data), "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func TestRegisterDeregisterLifecycle(t *testing.T) {
	ctx := context.Background()
	reg, conf := newTestRegistry(t)

	if err := reg.Register(ctx, registry.LogSource{Name: "a", LocalDir: "/tmp/src-a", RemoteDir: "s3://bucket/a"}); err != nil {
		t.Fatalf("Register a failed: %v", err)
	}
	lines := pairsFileLines(t, conf)
	if len(lines) != 1 || lines[0] != "/tmp/src-a/ s3://bucket/a" {
		t.Fatalf("unexpected pairs after registering a: %v", lines)
	}

	if err := reg.Register(ctx, registry.LogSource{Name: "b", LocalDir: "/tmp/src-b", RemoteDir: "s3://bucket/b"}); err != nil {
		t.Fatalf("Register b failed: %v", err)
	}
	lines = pairsFileLines(t, conf)
	want := []string{"/tmp/src-a/ s3://bucket/a", "/tmp/src-b/ s3://bucket/b"}
	if len(lines) != 2 || lines[0] != want[0] || lines[1] != want[1] {
		t.Fatalf("unexpected pairs after registering b: %v", lines)
	}

	if err := reg.Deregister(ctx, "a"); err != nil {
		t.Fatalf("Deregister a failed: %v", err)
	}
	lines = pairsFileLines(t, conf)
	if len(lines) != 1 || lines[0] != "/tmp/src-b/ s3://bucket/b" {
		t.Fatalf("unexpected pairs after deregistering a: %v", lines)
	}

	if err := reg.Deregister(ctx, "b"); err != nil {
		t.Fatalf("Deregister b failed: %v", err)
	}
	if lines := pairsFileLines(t, conf); len(lines) != 0 {
		t.Fatalf("expected empty pairs file after deregistering all, got %v", lines)
	}
}

func TestRegisterReplacesSameName(t *testing.T) {
	ctx := context.Background()
	reg, conf := newTestRegistry(t)

	if err := reg.Register(ctx, registry.LogSource{Name: "app", LocalDir: "/var/log/v1", RemoteDir: "s3://bucket/v1"}); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(ctx, registry.LogSource{Name: "app", LocalDir: "/var/log/v2", RemoteDir: "s3://bucket/v2"}); err != nil {
		t.Fatalf("second Register failed: %v", err)
	}

	lines := pairsFileLines(t, conf)
	if len(lines) != 1 || lines[0] != "/var/log/v2/ s3://bucket/v2" {
		t.Fatalf("re-register must replace the mapping, got %v", lines)
	}
}

func TestDeregisterUnknownIsHint(t *testing.T) {
	ctx := context.Background()
	reg, conf := newTestRegistry(t)

	if err := reg.Register(ctx, registry.LogSource{Name: "keep", LocalDir: "/tmp/keep", RemoteDir: "s3://bucket/keep"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := reg.Deregister(ctx, "ghost")
	if !hints.Is(err, registry.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource hint, got %v", err)
	}

	lines := pairsFileLines(t, conf)
	if len(lines) != 1 || lines[0] != "/tmp/keep/ s3://bucket/keep" {
		t.Errorf("unknown deregistration must leave the pairs file unchanged, got %v", lines)
	}
}

func TestRegisterRejectsEmptyFields(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tests := []registry.LogSource{
		{Name: "", LocalDir: "/tmp/x", RemoteDir: "s3://bucket/x"},
		{Name: "x", LocalDir: "", RemoteDir: "s3://bucket/x"},
		{Name: "x", LocalDir: "/tmp/x", RemoteDir: ""},
	}
	for _, src := range tests {
		if err := reg.Register(context.Background(), src); err == nil {
			t.Errorf("expected Register to reject %+v", src)
		}
	}
}

func TestInitializeGeneratesConfiguration(t *testing.T) {
	ctx := context.Background()
	reg, conf := newTestRegistry(t)

	if err := reg.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if _, err := os.Stat(conf.ScriptPath()); err != nil {
		t.Errorf("expected the transfer script to exist: %v", err)
	}
	if _, err := os.Stat(conf.CredentialsPath()); err != nil {
		t.Errorf("expected the credentials file to exist: %v", err)
	}
}

func TestSourcesSnapshotIsSorted(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		src := registry.LogSource{Name: name, LocalDir: "/tmp/" + name, RemoteDir: "s3://bucket/" + name}
		if err := reg.Register(ctx, src); err != nil {
			t.Fatalf("Register %s failed: %v", name, err)
		}
	}

	sources, err := reg.Sources(ctx)
	if err != nil {
		t.Fatalf("Sources failed: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d", len(sources))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if sources[i].Name != want {
			t.Errorf("sources[%d] = %q, want %q", i, sources[i].Name, want)
		}
	}
}
