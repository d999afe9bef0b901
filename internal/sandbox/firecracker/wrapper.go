// Package firecracker locates and invokes the on-disk microVM wrapper
// script that backs SandboxKind=microvm, and watches for one appearing on
// a long-lived session so a repo that installs isolation mid-session is
// picked up without restart.
package firecracker

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// candidateWrappers lists the wrapper script paths checked in order,
// relative to the session cwd.
var candidateWrappers = []string{
	filepath.Join("sandbox", "firecracker", "start.sh"),
	filepath.Join("sandbox", "gvisor", "run.sh"),
}

// LocateWrapper returns the first candidate wrapper script that exists and
// is executable under cwd, or found=false if none do.
func LocateWrapper(cwd string) (path string, args []string, found bool) {
	for _, rel := range candidateWrappers {
		candidate := filepath.Join(cwd, rel)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil, true
	}
	return "", nil, false
}

// WrapperWatcher notifies a callback the first time a wrapper script
// appears under cwd after having been absent, so a session doesn't need to
// re-check on every command once the host is known to lack a wrapper.
type WrapperWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	stopped bool
}

// WatchForWrapper starts watching the sandbox subdirectories under cwd and
// invokes onFound (at most once) the first time one of the candidate
// wrapper scripts is created. It is best-effort: if the sandbox directories
// don't exist yet, watch setup is skipped and this returns a nil watcher.
func WatchForWrapper(cwd string, onFound func(path string)) (*WrapperWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	watched := false
	for _, rel := range candidateWrappers {
		dir := filepath.Dir(filepath.Join(cwd, rel))
		if _, err := os.Stat(dir); err == nil {
			if err := watcher.Add(dir); err == nil {
				watched = true
			}
		}
	}
	if !watched {
		watcher.Close()
		return nil, nil
	}

	w := &WrapperWatcher{watcher: watcher}
	go w.run(onFound)
	return w, nil
}

func (w *WrapperWatcher) run(onFound func(path string)) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			base := filepath.Base(event.Name)
			if base == "start.sh" || base == "run.sh" {
				onFound(event.Name)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the underlying filesystem watch.
func (w *WrapperWatcher) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	return w.watcher.Close()
}
