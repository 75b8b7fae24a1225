package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile invokes onChange whenever the file at path is written or
// replaced, debouncing bursts of events. It watches the containing directory
// rather than the file itself so atomic renames (the usual editor and
// config-management write pattern) keep working. The watcher runs until ctx
// is cancelled.
func WatchFile(ctx context.Context, logger *slog.Logger, path string, debounce time.Duration, onChange func()) error {
	if path == "" {
		return fmt.Errorf("watch path is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	base := filepath.Base(path)
	go func() {
		defer watcher.Close()

		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					logger.Info("watched file changed", slog.String("path", path))
					onChange()
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("file watcher error", slog.Any("error", err))
			}
		}
	}()

	return nil
}
