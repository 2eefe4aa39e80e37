package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces bursts of file events into one rebuild.
const DefaultDebounce = 300 * time.Millisecond

// Watcher monitors a directory tree and invokes a callback once changes
// have settled for the debounce interval. Paths below an ignored prefix,
// and hidden files, never trigger the callback.
type Watcher struct {
	root     string
	ignore   []string
	debounce time.Duration
	onChange func()
	log      *zap.Logger

	fsw *fsnotify.Watcher
}

// NewWatcher returns a Watcher for root. ignore lists absolute paths whose
// changes are not reported, typically the output directory.
func NewWatcher(root string, ignore []string, debounce time.Duration, logger *zap.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{root: root, ignore: ignore, debounce: debounce, onChange: onChange, log: logger}
}

// Run watches until ctx is done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.ignored(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.log.Warn("watching new directory failed", zap.String("path", event.Name), zap.Error(err))
					}
				}
			}
			w.log.Debug("change detected", zap.String("path", event.Name), zap.Stringer("op", event.Op))

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.onChange)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", zap.Error(err))

		case <-ctx.Done():
			return nil
		}
	}
}

// ignored reports whether changes to path should be dropped.
func (w *Watcher) ignored(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	for _, prefix := range w.ignore {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// addRecursive adds a directory and all its subdirectories, skipping
// hidden and ignored ones.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignored(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Watch rebuilds whenever the source tree changes, until ctx is done.
// report receives the outcome of every rebuild. Rebuilds never overlap.
func (b *Builder) Watch(ctx context.Context, report func(*Result, error)) error {
	source, destination, err := b.Paths()
	if err != nil {
		return err
	}

	trigger := make(chan struct{}, 1)
	w := NewWatcher(source, []string{destination}, DefaultDebounce, b.log, func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	})

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	b.log.Info("watching for changes", zap.String("source", source))
	for {
		select {
		case <-trigger:
			res, err := b.Build(ctx)
			if report != nil {
				report(res, err)
			}
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return <-errCh
		}
	}
}
