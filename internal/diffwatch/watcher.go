// Package diffwatch notifies interested parties when a task's worktree
// changes on disk, so the UI can refresh a diff view without polling. It is
// the one place in this runtime that actually exercises fsnotify — the rest
// of the watching is done by the PTY reader and idle timer, which already
// know when output happened without asking the filesystem.
package diffwatch

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// OnChange is invoked, possibly often, whenever a watched worktree's files
// change. Callers typically debounce or coalesce on their own side (e.g. by
// only ever publishing the latest diff, not every individual notification).
type OnChange func(taskID string)

// watch holds one task's fsnotify subscription and the set of directories
// currently registered with it (fsnotify watches directories, not subtrees,
// so new subdirectories must be added as they appear).
type watch struct {
	taskID string
	root   string
	nw     *fsnotify.Watcher
	done   chan struct{}
}

// Watcher manages one recursive filesystem watch per task.
type Watcher struct {
	mu     sync.Mutex
	active map[string]*watch
	log    *slog.Logger
}

// New creates an empty Watcher.
func New(log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{active: make(map[string]*watch), log: log}
}

// Start begins watching root (recursively, skipping .git) for a task,
// calling onChange on every relevant filesystem event. Calling Start again
// for a taskID that's already watched is a no-op — idempotent by design, so
// callers don't need to track whether they've already started a watch.
func (w *Watcher) Start(taskID, root string, onChange OnChange) error {
	w.mu.Lock()
	if _, exists := w.active[taskID]; exists {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	nw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := addRecursive(nw, root); err != nil {
		nw.Close()
		return err
	}

	wt := &watch{taskID: taskID, root: root, nw: nw, done: make(chan struct{})}

	w.mu.Lock()
	if _, exists := w.active[taskID]; exists {
		w.mu.Unlock()
		nw.Close()
		return nil
	}
	w.active[taskID] = wt
	w.mu.Unlock()

	go w.runLoop(wt, onChange)

	return nil
}

// Stop ends the watch for taskID, if any. Safe to call on a task with no
// active watch.
func (w *Watcher) Stop(taskID string) {
	w.mu.Lock()
	wt, exists := w.active[taskID]
	if exists {
		delete(w.active, taskID)
	}
	w.mu.Unlock()

	if !exists {
		return
	}
	wt.nw.Close()
	<-wt.done
}

// StopAll ends every active watch, for shutdown.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	watches := make([]*watch, 0, len(w.active))
	for _, wt := range w.active {
		watches = append(watches, wt)
	}
	w.active = make(map[string]*watch)
	w.mu.Unlock()

	for _, wt := range watches {
		wt.nw.Close()
		<-wt.done
	}
}

func (w *Watcher) runLoop(wt *watch, onChange OnChange) {
	defer close(wt.done)
	for {
		select {
		case ev, ok := <-wt.nw.Events:
			if !ok {
				return
			}
			if ignoredPath(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create) != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					wt.nw.Add(ev.Name)
				}
			}
			onChange(wt.taskID)
		case _, ok := <-wt.nw.Errors:
			if !ok {
				return
			}
			w.log.Warn("diffwatch: watcher error", "task_id", wt.taskID)
		}
	}
}

// addRecursive walks root and registers every directory with nw, skipping
// .git (its own internal churn isn't a content change worth reporting).
func addRecursive(nw *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if ignoredPath(path) {
			return filepath.SkipDir
		}
		return nw.Add(path)
	})
}

func ignoredPath(path string) bool {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, p := range parts {
		if p == ".git" {
			return true
		}
	}
	return false
}
