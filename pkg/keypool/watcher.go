package keypool

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher hot-reloads a YAML credential file into the pool. Edits to the
// file upsert new keys without a restart; removed entries are NOT disabled
// (key removal is an operator action through the pool API).
type FileWatcher struct {
	pool     *Pool
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// NewFileWatcher creates a watcher for the given credential file.
func NewFileWatcher(pool *Pool, path string) *FileWatcher {
	return &FileWatcher{
		pool:     pool,
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   slog.Default().With("component", "keypool.watcher"),
	}
}

// Watch blocks until the context is cancelled, reloading the key file on
// every write. Events are debounced so editors that write in several chunks
// trigger a single reload.
func (w *FileWatcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: most editors replace the
	// file on save, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", w.path, err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-reload:
			added, err := w.pool.LoadFromFile(w.path)
			if err != nil {
				w.logger.Error("key file reload failed", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("key file reloaded", "path", w.path, "keys_added", added)
		}
	}
}
