package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Watch reloads the config file at path whenever it changes and passes the
// new configuration to onChange. Invalid edits are logged and ignored. Watch
// blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that editors and
// config-map mounts that replace the file by rename are still seen.
func Watch(ctx context.Context, path string, logger *observability.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				logger.WithError(err).WithField("path", path).Warn("ignoring invalid config change")
				continue
			}
			logger.WithField("path", path).Info("configuration reloaded")
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
