// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/rigrun-chatsync/internal/logging"
)

// WatchDebounce is how long Watch waits after the last change event before
// reloading. Editors often write a file in several steps.
const WatchDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// result to fn. A file that fails to load or validate is reported through
// err and the previous configuration stays in effect for the caller.
//
// The parent directory is watched rather than the file, so atomic
// replacements (write temp, rename) are seen. Watch returns once the watch
// is established; it stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(cfg *Config, err error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch config: %w", err)
	}

	go watchLoop(ctx, w, abs, fn)
	return nil
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, path string, fn func(*Config, error)) {
	defer w.Close()
	log := logging.WithFields("component", "config", "path", path)

	timer := time.NewTimer(WatchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(WatchDebounce)

		case <-timer.C:
			cfg, err := LoadFromPath(path)
			if err != nil {
				log.Warn("config reload failed", "error", err)
			} else {
				log.Info("config reloaded")
			}
			fn(cfg, err)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", "error", err)
		}
	}
}
