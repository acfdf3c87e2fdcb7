// Package watch triggers incremental updates when files under the project
// root change on disk.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce batches bursts of filesystem events (editor save storms, branch
// switches) into one update.
const debounce = 500 * time.Millisecond

// UpdateFunc is called when changes have settled.
type UpdateFunc func(ctx context.Context) error

// Watcher drives an UpdateFunc from filesystem notifications.
type Watcher struct {
	root     string
	updateFn UpdateFunc
	fsw      *fsnotify.Watcher
}

// New creates a watcher over root. Directories are registered recursively;
// newly created directories are added as they appear.
func New(root string, updateFn UpdateFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{root: root, updateFn: updateFn, fsw: fsw}
	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying notifier.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks until ctx is cancelled, coalescing events and invoking the
// update function after each quiet period.
func (w *Watcher) Run(ctx context.Context) error {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch.err", "err", err)

		case <-fire:
			slog.Info("watch.update", "root", w.root)
			if err := w.updateFn(ctx); err != nil {
				slog.Error("watch.update_failed", "err", err)
			}
		}
	}
}

// skipDirs holds the common dependency, cache and build directories plus the
// .codeatlas store directory; it is shorter than discovery's default skip
// list. Watching node_modules would drown the notifier.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".venv": true, "venv": true, "dist": true, "build": true,
	".codeatlas": true,
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if skipDirs[info.Name()] && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			slog.Warn("watch.add_failed", "path", path, "err", err)
		}
		return nil
	})
}
