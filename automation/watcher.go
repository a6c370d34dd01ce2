package automation

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher reloads the rule store when the persisted rules file changes
// on disk, so external edits (or another process writing the file) take
// effect without a restart. Change bursts are debounced: editors commonly
// emit several write/rename events per save.
type FileWatcher struct {
	path     string
	store    *Store
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher

	// onReload, when set, runs after a successful reload. Used by tests
	// and by the engine status surface.
	onReload func()
}

// NewFileWatcher creates a watcher for the rules file at path. debounce
// may be zero for a 500ms default.
func NewFileWatcher(path string, store *Store, debounce time.Duration, logger *slog.Logger) *FileWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &FileWatcher{
		path:     path,
		store:    store,
		logger:   logger,
		debounce: debounce,
	}
}

// Start begins watching until ctx is cancelled. The parent directory is
// watched rather than the file itself: atomic save-and-rename replaces the
// inode, which would silently detach a file watch.
func (w *FileWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch rules directory: %w", err)
	}
	w.watcher = watcher

	go w.loop(ctx)
	w.logger.Info("rules file watcher started", "path", w.path)
	return nil
}

func (w *FileWatcher) loop(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules file watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *FileWatcher) reload() {
	if err := w.store.Load(); err != nil {
		w.logger.Warn("rules file reload failed, keeping current rules", "error", err)
		return
	}
	w.logger.Info("rules reloaded from file", "path", w.path)
	if w.onReload != nil {
		w.onReload()
	}
}
