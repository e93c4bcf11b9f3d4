// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianFractal/pkg/logging"
)

// watchDebounce batches editor write bursts into one reload.
const watchDebounce = 200 * time.Millisecond

// locationNotifier receives reload notifications. *tui.Sink satisfies it.
type locationNotifier interface {
	LocationFileChanged(path string)
}

// watchLocation watches one location file and tells the TUI to reload it
// on change. The parent directory is watched rather than the file itself
// because most editors replace the file on save, which would drop an
// inode-level watch.
func watchLocation(ctx context.Context, path string, sink locationNotifier, logger *logging.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	logger.Info("watching location file", "path", target)

	var pending <-chan time.Time
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
			pending = time.After(watchDebounce)

		case <-pending:
			pending = nil
			logger.Info("location file changed, reloading", "path", target)
			sink.LocationFileChanged(target)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("location watcher error", "error", err)
		}
	}
}
