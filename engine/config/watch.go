package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
)

// reloadDebounce coalesces the burst of events editors produce for a single save.
const reloadDebounce = 100 * time.Millisecond

// Watch reloads the configuration file whenever it is written or replaced and calls onChange
// with the new, validated configuration. The parent directory is watched so editors that save by
// renaming a temporary file are seen. Reload errors are logged and the previous configuration
// stays in effect.
//
// Watch returns once the watcher is installed; watching stops when ctx is done.
//
// Parameters:
//   - ctx: stops the watcher when done
//   - path: the configuration file, ~ is expanded
//   - onChange: receives a private copy of every successfully reloaded configuration
//
// Returns:
//   - error: an error if the watcher could not be created
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	full, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("config: expand %q: %w", path, err)
	}
	full = filepath.Clean(full)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(full)); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(full), err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		cfg, err := Load(full)
		if err != nil {
			slogger().Warn("config: reload failed, keeping previous configuration", "path", full, "error", err)
			return
		}
		slogger().Info("config: reloaded", "path", full)
		onChange(cfg.Clone())
	}

	go func() {
		defer watcher.Close()
		defer func() {
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != full {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, reload)
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slogger().Warn("config: watcher error", "error", err)
			}
		}
	}()
	return nil
}
