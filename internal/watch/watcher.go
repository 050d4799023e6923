// Package watch re-triggers work when files under a dataset root change.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docfold/docbench/internal/pkg/logger"
)

// DefaultDebounce is how long the watcher waits for a burst of writes to
// settle before reporting.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc receives the sorted set of paths changed since the last call.
// Calls never overlap.
type ChangeFunc func(ctx context.Context, paths []string)

// Config configures a Watcher.
type Config struct {
	Root     string
	Debounce time.Duration
}

// Watcher watches a directory tree and reports debounced batches of changes.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   *IgnoreFilter
	onChange ChangeFunc
	log      *logger.Logger
}

// New creates a watcher for cfg.Root.
func New(cfg Config, onChange ChangeFunc, log *logger.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if log == nil {
		log = logger.Discard()
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	ignore, err := NewIgnoreFilter(root)
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:     root,
		debounce: cfg.Debounce,
		ignore:   ignore,
		onChange: onChange,
		log:      &logger.Logger{Logger: log.With("component", "watcher")},
	}, nil
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	w.log.Info("watching for changes", "path", w.root)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(fsw, ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)

			w.log.Debug("change batch", "count", len(paths))
			w.onChange(ctx, paths)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// relevant filters ignored paths and starts watching new directories.
func (w *Watcher) relevant(fsw *fsnotify.Watcher, ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}

	isDir := false
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			isDir = true
		}
	}
	if w.ignore.ShouldIgnore(ev.Name, isDir) {
		return false
	}
	if isDir {
		if err := w.addTree(fsw, ev.Name); err != nil {
			w.log.Warn("failed to watch directory", "path", ev.Name, "error", err)
		}
	}
	return true
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.log.Warn("error walking path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.ignore.ShouldIgnore(path, true) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
