package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 250 * time.Millisecond

// WatchYamlConfig reloads the config whenever its file changes on disk.
// Editors often replace the file (rename+create), so the parent directory is
// watched rather than the file itself. Stops when ctx is cancelled.
func WatchYamlConfig(ctx context.Context, cfg *YamlConfig, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(cfg.configPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		target := filepath.Clean(cfg.configPath)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(watchDebounce, func() {
					if err := cfg.Update(); err != nil {
						logger.Error("Config reload failed", zap.String("path", cfg.configPath), zap.Error(err))
						return
					}
					logger.Info("Config reloaded", zap.String("path", cfg.configPath))
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("Config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
