package orchestrator

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockExcludesSecondOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer lock.Release()

	// The lock file names this live process, so a second acquire fails.
	if _, err := acquireLock(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestLockTakesOverStaleOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	// A lock file naming a long-dead PID must not block startup.
	if err := os.WriteFile(path, []byte("999999999\n"), 0644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := acquireLock(path)
	if err != nil {
		t.Fatalf("expected stale takeover, got %v", err)
	}
	lock.Release()
}

func TestLockReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	lock, err := acquireLock(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	lock, err = acquireLock(path)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	lock.Release()
}

func TestControlWatcherSeesDropFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "control")

	cw, err := newControlWatcher(dir)
	if err != nil {
		t.Fatalf("new control watcher: %v", err)
	}
	defer cw.Close()

	if cw.SoftRequested() || cw.HardRequested() {
		t.Fatal("no signals expected before drop files exist")
	}

	if err := os.WriteFile(filepath.Join(dir, "stop"), nil, 0644); err != nil {
		t.Fatalf("drop stop file: %v", err)
	}
	waitTrue(t, cw.SoftRequested, "stop drop file not observed")

	if err := os.WriteFile(filepath.Join(dir, "kill"), nil, 0644); err != nil {
		t.Fatalf("drop kill file: %v", err)
	}
	waitTrue(t, cw.HardRequested, "kill drop file not observed")
}

func waitTrue(t *testing.T, probe func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if probe() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
