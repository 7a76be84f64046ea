// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// result to fn. Errors from the underlying watcher are reported through fn
// with a nil config. The parent directory is watched so that atomic
// rename-over saves are seen. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		reload := func() {
			if ctx.Err() != nil {
				return
			}
			fn(LoadFromPath(abs))
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(watchDebounce, reload)
				} else {
					timer.Reset(watchDebounce)
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fn(nil, err)
			}
		}
	}()

	return nil
}
