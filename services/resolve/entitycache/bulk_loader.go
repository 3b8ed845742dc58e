// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entitycache

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/FieldResolve/services/resolve/report"
)

const defaultLoadWorkers = 3

// BulkLoader reconstitutes every cached entity listed in a directory's
// manifest using a bounded worker pool.
//
// # Thread Safety
//
// Safe for concurrent use; each LoadAll call runs its own pool.
type BulkLoader struct {
	maxWorkers int
	logger     *slog.Logger
}

// NewBulkLoader creates a BulkLoader. maxWorkers <= 0 selects the default
// pool size.
func NewBulkLoader(maxWorkers int, logger *slog.Logger) *BulkLoader {
	if maxWorkers <= 0 {
		maxWorkers = defaultLoadWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkLoader{maxWorkers: maxWorkers, logger: logger}
}

// LoadAll loads every successfully processed entity recorded in dir's
// manifest.
//
// # Description
//
// Entries are loaded concurrently, at most maxWorkers at a time, each via
// the same binary-first, JSON-fallback path as Cache.Load. An entry whose
// files are unreadable is logged and skipped; it never aborts the batch.
// The result is sorted by entity ID, so the output is independent of both
// worker count and completion order.
//
// # Outputs
//
//   - []*report.Entity: All loadable entities, sorted by ID. A missing
//     manifest yields an empty slice.
//   - error: Only context cancellation.
func (b *BulkLoader) LoadAll(ctx context.Context, dir string) ([]*report.Entity, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			b.logger.Warn("bulk load: no manifest, nothing cached",
				slog.String("dir", dir),
			)
			return nil, nil
		}
		b.logger.Warn("bulk load: manifest unreadable, nothing cached",
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	successes := manifest.Successes()
	if len(successes) == 0 {
		return nil, nil
	}

	// Deterministic work order; output order is re-sorted below anyway.
	sources := make([]string, 0, len(successes))
	for src := range successes {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	var (
		mu       sync.Mutex
		entities []*report.Entity
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.maxWorkers)

	for _, src := range sources {
		entry := successes[src]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			jsonPath := filepath.Join(dir, entry.ResultFile)
			binaryPath := filepath.Join(dir, entry.CacheFile)
			e, err := loadSmart(jsonPath, binaryPath, b.logger)
			if err != nil {
				b.logger.Warn("bulk load: skipping unreadable entity",
					slog.String("source", src),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			entities = append(entities, e)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})

	b.logger.Info("bulk load complete",
		slog.Int("loaded", len(entities)),
		slog.Int("listed", len(successes)),
		slog.Int("workers", b.maxWorkers),
	)
	return entities, nil
}
