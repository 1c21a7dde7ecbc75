package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked indicates another live orchestrator already owns the project.
// Callers treat this as a startup failure, never a wait condition.
var ErrLocked = fmt.Errorf("project is locked by another running orchestrator")

// projectLock is an exclusive, single-host lock over one project's feature
// store. It exists to make "at most one orchestrator per project" true even
// across crashes: a lock file naming a dead PID is stale and taken over.
type projectLock struct {
	path string
}

// acquireLock takes the project lock at path or fails with ErrLocked.
func acquireLock(path string) (*projectLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &projectLock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid, readErr := readLockPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d, lock file %s)", ErrLocked, pid, path)
		}

		// Unreadable or dead owner: the lock is stale. Remove it and
		// retry the exclusive create once.
		debugLog("[orchestrator] removing stale lock %s (pid %d)", path, pid)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}
	return nil, ErrLocked
}

// LockOwner reports who holds the lock at path: the PID from the lock file
// and whether that process is still alive. A missing or unreadable lock
// file reports (0, false).
func LockOwner(path string) (int, bool) {
	pid, err := readLockPID(path)
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// Release removes the lock file.
func (l *projectLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse lock pid: %w", err)
	}
	return pid, nil
}

// processAlive reports whether a process with the given PID exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
