// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits after the last change
// before triggering a run. The messaging daemon writes the database and
// its WAL in quick bursts; one run per burst is enough.
const DefaultDebounce = 2 * time.Second

// Watch monitors the directory holding the message database and runs an
// incremental index after changes settle. It blocks until ctx is
// cancelled, which is the normal way to stop it.
//
// Run errors are logged and watching continues: a transient embedding or
// index failure should not kill the watch loop.
func (ix *Indexer) Watch(ctx context.Context, dbPath string, opts RunOptions) error {
	opts.FullReindex = false

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("indexer: create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(dbPath)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("indexer: watch %s: %w", dir, err)
	}
	base := filepath.Base(dbPath)
	window := ix.debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	ix.log.Info("watching message store", "dir", dir, "debounce", window)

	// The timer is armed on the first relevant event and re-armed on
	// every subsequent one, so the run fires once per burst of writes.
	debounce := time.NewTimer(window)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.log.Info("watch stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			// SQLite writes land on the db file or its -wal/-shm
			// companions; ignore everything else in the directory.
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(window)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.log.Warn("watch error", "error", err)

		case <-debounce.C:
			result, err := ix.Run(ctx, opts)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ix.log.Error("watch-triggered run failed", "error", err)
				continue
			}
			if result.MessagesProcessed > 0 {
				ix.log.Info("watch-triggered run complete",
					"messages", result.MessagesProcessed,
					"chunks", result.ChunksIndexed,
					"duration", result.Duration.Round(time.Millisecond))
			}
		}
	}
}
