package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paulschiretz/pgl-worldreset/pkg/plog"
)

// watchDebounce coalesces the burst of events an editor produces on save.
var watchDebounce = 250 * time.Millisecond

// Watch calls onChange with the freshly loaded and validated configuration
// every time the file at path changes. Invalid files are logged and skipped.
// Watch blocks until ctx is cancelled, also when the directory of path cannot
// be watched.
//
// The parent directory is watched rather than the file, so editors that
// replace the file by renaming a new one over it are handled.
func Watch(ctx context.Context, path string, onChange func(Config)) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not determine absolute path for %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		// Running on defaults without a config directory is valid.
		plog.Warn("Config file changes will not be picked up", "dir", filepath.Dir(absPath), "error", err)
		<-ctx.Done()
		return nil
	}
	plog.Debug("Watching configuration", "path", absPath)

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			plog.Warn("Config watcher error", "error", err)
		case <-timer.C:
			cfg, err := Load(absPath)
			if err != nil {
				plog.Warn("Ignoring unreadable configuration change", "path", absPath, "error", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				plog.Warn("Ignoring invalid configuration change", "path", absPath, "error", err)
				continue
			}
			plog.Info("Configuration file changed", "path", absPath)
			onChange(cfg)
		}
	}
}
