package orchestrator

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// controlWatcher turns drop files in the project's control directory into
// stop requests. An operator (or a script) touches "stop" for a drain or
// "kill" for an immediate teardown. The watcher gives low latency; the
// per-tick stat fallback covers a missed filesystem event.
type controlWatcher struct {
	dir string

	mu         sync.RWMutex
	softSignal bool
	hardSignal bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// newControlWatcher sets up the control directory and starts watching it.
// A watcher setup failure is not fatal; the stat fallback still works.
func newControlWatcher(dir string) (*controlWatcher, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	cw := &controlWatcher{
		dir:  dir,
		done: make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return cw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return cw, nil
	}
	cw.watcher = watcher

	go cw.watch()
	return cw, nil
}

func (cw *controlWatcher) watch() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cw.mu.Lock()
			switch filepath.Base(event.Name) {
			case "stop":
				cw.softSignal = true
			case "kill":
				cw.hardSignal = true
			}
			cw.mu.Unlock()
		case <-cw.watcher.Errors:
			// Keep watching; the stat fallback covers gaps.
		}
	}
}

// SoftRequested reports whether a drain has been requested.
func (cw *controlWatcher) SoftRequested() bool {
	if _, err := os.Stat(filepath.Join(cw.dir, "stop")); err == nil {
		cw.mu.Lock()
		cw.softSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.softSignal
}

// HardRequested reports whether an immediate teardown has been requested.
func (cw *controlWatcher) HardRequested() bool {
	if _, err := os.Stat(filepath.Join(cw.dir, "kill")); err == nil {
		cw.mu.Lock()
		cw.hardSignal = true
		cw.mu.Unlock()
	}

	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.hardSignal
}

// Close stops the watcher and clears any leftover drop files so they do not
// stop the next run the moment it starts.
func (cw *controlWatcher) Close() {
	close(cw.done)
	if cw.watcher != nil {
		cw.watcher.Close()
	}
	os.Remove(filepath.Join(cw.dir, "stop"))
	os.Remove(filepath.Join(cw.dir, "kill"))
}
