// Package watch re-runs a callback whenever pipeline files change on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vk/pipegrid/internal/ctxlog"
)

// DefaultDebounce batches the bursts of events editors emit on save.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches a set of files and directories for changes to files with
// one of the given extensions.
type Watcher struct {
	paths      []string
	extensions []string
	debounce   time.Duration
}

// New returns a watcher over paths. Directories are watched recursively,
// including subdirectories created later.
func New(paths []string, extensions []string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{paths: paths, extensions: extensions, debounce: debounce}
}

// Run blocks until ctx is cancelled, calling onChange once after every burst
// of relevant events. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context)) error {
	logger := ctxlog.FromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	t := targets{files: make(map[string]bool)}
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := addTree(fw, abs); err != nil {
				return err
			}
			t.dirs = append(t.dirs, abs)
			continue
		}
		// Editors replace files on save, so watch the parent directory.
		t.files[abs] = true
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	logger.Debug("Watching pipeline files.", "paths", w.paths, "watched_dirs", len(fw.WatchList()))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addTree(fw, ev.Name); err != nil {
						logger.Warn("Failed to watch new directory.", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !t.matches(ev.Name, w.extensions) {
				continue
			}
			logger.Debug("Pipeline file changed.", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error.", "error", err)

		case <-timer.C:
			onChange(ctx)
		}
	}
}

// targets are the absolute paths the user asked to watch.
type targets struct {
	files map[string]bool
	dirs  []string
}

// matches reports whether path is a named file, or a file with a pipeline
// extension under one of the watched directories.
func (t targets) matches(path string, extensions []string) bool {
	if t.files[path] {
		return true
	}
	if !slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
		return false
	}
	for _, dir := range t.dirs {
		rel, err := filepath.Rel(dir, path)
		if err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
