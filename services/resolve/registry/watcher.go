// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcherDebounce collapses the burst of fsnotify events a single editor or
// exporter save produces into one reload.
const watcherDebounce = 500 * time.Millisecond

// Watcher reloads the master registry when the file changes on disk.
//
// # Description
//
// Master-data refresh happens outside this process (an exported file is
// dropped in place). The watcher observes the file's parent directory,
// debounces write/create events, reloads the registry, swaps the Store
// snapshot, and invokes onReload so the caller can invalidate dependent
// caches (typically an embedding index re-warm).
//
// A reload that fails to parse keeps the previous snapshot — a half-written
// export never replaces good data.
//
// # Thread Safety
//
// Run is intended to be called from exactly one goroutine.
type Watcher struct {
	store      *Store
	masterPath string
	onReload   func(ctx context.Context)
	logger     *slog.Logger
}

// NewWatcher creates a Watcher for the given store and master file path.
// onReload may be nil. A nil logger falls back to slog.Default().
func NewWatcher(store *Store, masterPath string, onReload func(ctx context.Context), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:      store,
		masterPath: masterPath,
		onReload:   onReload,
		logger:     logger,
	}
}

// Run watches the master file until ctx is cancelled.
//
// # Description
//
// Watches the parent directory rather than the file itself: exporters
// typically replace the file via rename, which would silently detach a
// file-level watch.
//
// # Outputs
//
//   - error: Non-nil only if the fsnotify watcher cannot be created or the
//     directory cannot be watched. Individual reload failures are logged
//     and do not stop the watch loop.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	dir := filepath.Dir(w.masterPath)
	if err := fw.Add(dir); err != nil {
		return err
	}

	w.logger.Info("registry watcher: started", slog.String("path", w.masterPath))

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.masterPath) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watcherDebounce)
				debounceC = debounce.C
			} else {
				resetDebounce(debounce, watcherDebounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("registry watcher: fsnotify error", slog.String("error", err.Error()))

		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload(ctx)
		}
	}
}

// resetDebounce restarts the debounce window. A timer that already fired
// still has its tick buffered; it must be drained before Reset or the stale
// tick triggers an early reload.
func resetDebounce(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		<-t.C
	}
	t.Reset(d)
}

// reload re-reads the master file and swaps the snapshot on success.
func (w *Watcher) reload(ctx context.Context) {
	records, err := LoadRecords(w.masterPath)
	if err != nil {
		w.logger.Warn("registry watcher: reload failed, keeping previous snapshot",
			slog.String("path", w.masterPath),
			slog.String("error", err.Error()),
		)
		return
	}

	w.store.Replace(records)
	w.logger.Info("registry watcher: master data reloaded",
		slog.Int("record_count", len(records)),
	)

	if w.onReload != nil {
		w.onReload(ctx)
	}
}
