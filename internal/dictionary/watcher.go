package dictionary

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors produce when saving a file.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a Store when its source file changes on disk.
type Watcher struct {
	store    *Store
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for store's source file.
func NewWatcher(store *Store, logger *slog.Logger, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		store:    store,
		logger:   logger,
		debounce: debounce,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched rather than
// the file itself so that atomic replace-by-rename is observed.
func (w *Watcher) Run(ctx context.Context) error {
	path, err := filepath.Abs(w.store.Source())
	if err != nil {
		return fmt.Errorf("failed to resolve dictionary path: %w", err)
	}
	dir, name := filepath.Split(path)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsWatcher.Close() //nolint:errcheck // Best effort close on shutdown

	if err := fsWatcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Info("Watching dictionary for changes",
		slog.String("path", path),
		slog.Duration("debounce", w.debounce),
	)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug("Dictionary file event", slog.String("op", event.Op.String()))
			timer.Reset(w.debounce)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			w.store.Reload()
		}
	}
}
