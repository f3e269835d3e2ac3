package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"treeterm/internal/workerutil"
)

// watchDebounce coalesces the event burst a single save produces (editors
// and atomicWrite both generate create + write + rename for one change).
const watchDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// parsed result to the onChange callback. The parent directory is watched
// rather than the file itself because atomic saves replace the file by
// rename, which would silently detach a file-level watch.
type Watcher struct {
	path     string
	onChange func(Config)

	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the config file at path. onChange runs on
// the watcher goroutine after every successful reload.
func NewWatcher(path string, onChange func(Config)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
	}
}

// Start begins watching. Call Stop to release the underlying notifier.
func (w *Watcher) Start(ctx context.Context) error {
	if w.onChange == nil {
		return errors.New("config watcher: onChange callback required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return fmt.Errorf("config watcher: watch %q: %w", dir, err)
	}
	w.fsw = fsw

	ctx, w.cancel = context.WithCancel(ctx)
	workerutil.RunWithPanicRecovery(ctx, "config-watcher", &w.wg, w.run, workerutil.RecoveryOptions{})

	slog.Info("[config] watching for changes", "path", w.path)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(watchDebounce)
			debounceC = debounce.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("[config] watcher error", "error", err)
		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(w.path) {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep the last good config; a half-saved file will trigger another
		// event once the write completes.
		slog.Warn("[config] reload failed, keeping current config", "path", w.path, "error", err)
		return
	}
	slog.Info("[config] reloaded", "path", w.path)
	w.onChange(cfg)
}

// Stop cancels the watch goroutine and closes the notifier. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.fsw != nil {
			if err := w.fsw.Close(); err != nil {
				slog.Debug("[config] watcher close failed", "error", err)
			}
		}
		w.wg.Wait()
	})
}
