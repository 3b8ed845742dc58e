// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index maintains the persisted embedding index over project master
// records and answers cosine-similarity searches against it.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/FieldResolve/services/resolve/embedding"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
)

// defaultWarmConcurrency is the number of parallel embedding calls during
// Warm() unless SetWarmConcurrency overrides it. Small on purpose: the
// backend is the bottleneck, not this process.
const defaultWarmConcurrency = 5

// persistEvery batches disk writes during bulk additions. The index is also
// flushed explicitly at shutdown, so at most persistEvery-1 additions are
// ever at risk.
const persistEvery = 100

// Entry is the cached vector for one project record.
type Entry struct {
	ProjectID       string
	Vector          []float32
	DescriptionHash string
	AddedAt         time.Time
}

// SearchResult is one scored hit from a similarity search.
type SearchResult struct {
	ProjectID  string
	Similarity float64
}

// =============================================================================
// ProjectIndex
// =============================================================================

// ProjectIndex is an in-memory map of project ID to embedding vector with
// on-disk persistence.
//
// # Description
//
// The corpus is small (low hundreds to low thousands of records), so Search
// is a full linear cosine scan — O(n·d) per query. An approximate
// nearest-neighbour index buys nothing at this scale and is deliberately
// not used.
//
// Additions are idempotent: a record whose description hash is unchanged is
// never re-embedded. Vectors are persisted as a gob blob with a JSON
// metadata sidecar; a corrupt blob is discarded on load and the index is
// rebuilt from master data via Warm.
//
// # Thread Safety
//
// Safe for concurrent use. Search holds a read lock; AddProject a write
// lock.
type ProjectIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
	dirty   int // additions since last persist

	warmConcurrency int

	embedder embedding.Embedder
	storage  *indexStorage
	logger   *slog.Logger
}

// NewProjectIndex creates a ProjectIndex persisted under cacheDir.
//
// # Description
//
// Loads any existing vector cache from disk. A corrupt or unreadable blob
// is logged, deleted and ignored — the caller is expected to Warm() the
// index from master data, which transparently rebuilds it.
//
// # Inputs
//
//   - cacheDir: Directory for project_vectors.gob and project_metadata.json.
//     Created if absent.
//   - embedder: Backend client. Must not be nil.
//   - logger: May be nil; falls back to slog.Default().
//
// # Outputs
//
//   - *ProjectIndex: Ready index (possibly empty). Never nil.
//   - error: Non-nil only if the cache directory cannot be created.
func NewProjectIndex(cacheDir string, embedder embedding.Embedder, logger *slog.Logger) (*ProjectIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := newIndexStorage(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("index storage: %w", err)
	}

	idx := &ProjectIndex{
		entries:         make(map[string]Entry),
		warmConcurrency: defaultWarmConcurrency,
		embedder:        embedder,
		storage:         storage,
		logger:          logger,
	}

	entries, err := storage.load()
	if err != nil {
		// Corruption is recoverable: drop the blob and rebuild from master.
		logger.Warn("project index: cache unreadable, starting empty",
			slog.String("error", err.Error()),
		)
		storage.remove()
	} else if len(entries) > 0 {
		idx.entries = entries
		logger.Info("project index: loaded from cache",
			slog.Int("project_count", len(entries)),
		)
	}

	return idx, nil
}

// descriptionHash hashes a record description together with the embedding
// model name. A model swap invalidates every entry, same as a description
// change.
func descriptionHash(description, model string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\nmodel=%s\n", description, model)
	return hex.EncodeToString(h.Sum(nil))
}

// AddProject embeds a record's description and stores the vector.
//
// # Description
//
// Idempotent: if an entry for the record's ID already exists with the same
// description hash, this is a no-op. A changed description (or embedding
// model) recomputes the vector in place — the index never holds two entries
// for one project ID.
//
// Persistence is batched: the cache is written every persistEvery additions
// and on Flush.
//
// # Inputs
//
//   - ctx: Context for the embedding call.
//   - record: Master record to index.
//
// # Outputs
//
//   - error: Embedding backend failure (wraps
//     embedding.ErrBackendUnavailable) or a persistence error.
func (idx *ProjectIndex) AddProject(ctx context.Context, record registry.ProjectRecord) error {
	description := record.Describe()
	hash := descriptionHash(description, idx.embedder.Model())

	idx.mu.RLock()
	existing, ok := idx.entries[record.ProjectID]
	idx.mu.RUnlock()
	if ok && existing.DescriptionHash == hash {
		return nil
	}

	vector, err := idx.embedder.Embed(ctx, description)
	if err != nil {
		return fmt.Errorf("embed project %s: %w", record.ProjectID, err)
	}

	idx.mu.Lock()
	idx.entries[record.ProjectID] = Entry{
		ProjectID:       record.ProjectID,
		Vector:          vector,
		DescriptionHash: hash,
		AddedAt:         time.Now().UTC(),
	}
	idx.dirty++
	shouldPersist := idx.dirty >= persistEvery
	if shouldPersist {
		idx.dirty = 0
	}
	idx.mu.Unlock()

	if shouldPersist {
		if err := idx.persist(); err != nil {
			// Non-fatal: vectors are in RAM and Flush runs at shutdown.
			idx.logger.Warn("project index: batched persist failed",
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Search embeds queryText once and scans all stored vectors.
//
// # Description
//
// Similarity is cosine, clamped to [0,1] — a negative cosine counts as 0.
// Results at or above threshold are sorted by similarity descending, ties
// broken by ascending project ID so identical corpora always produce
// identical rankings.
//
// # Inputs
//
//   - ctx: Context for the query embedding call.
//   - queryText: Search text. Must be non-empty.
//   - topK: Maximum results. Non-positive defaults to 5.
//   - threshold: Minimum similarity to include.
//
// # Outputs
//
//   - []SearchResult: Up to topK scored hits. Empty if the index is empty.
//   - error: Embedding backend failure (wraps
//     embedding.ErrBackendUnavailable).
//
// # Thread Safety
//
// Safe to call concurrently with AddProject; results reflect the entries
// present when the scan takes its read lock.
func (idx *ProjectIndex) Search(ctx context.Context, queryText string, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}

	idx.mu.RLock()
	empty := len(idx.entries) == 0
	idx.mu.RUnlock()
	if empty {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mu.RLock()
	results := make([]SearchResult, 0, len(idx.entries))
	for id, entry := range idx.entries {
		sim := cosineSimilarity(queryVec, entry.Vector)
		if sim >= threshold {
			results = append(results, SearchResult{ProjectID: id, Similarity: sim})
		}
	}
	idx.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ProjectID < results[j].ProjectID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// SetWarmConcurrency bounds the number of parallel embedding calls during
// Warm. Non-positive values keep the current bound.
func (idx *ProjectIndex) SetWarmConcurrency(n int) {
	if n <= 0 {
		return
	}
	idx.mu.Lock()
	idx.warmConcurrency = n
	idx.mu.Unlock()
}

// Warm indexes every record in the store with bounded concurrency.
//
// # Description
//
// Runs up to the configured number of embedding calls in flight
// (SetWarmConcurrency, default 5).
// Individual record failures are logged and skipped — the record simply
// stays unindexed until the next warm. The index is flushed once at the
// end regardless of partial failure.
//
// # Outputs
//
//   - int: Number of records newly embedded (idempotent no-ops excluded).
//   - error: Non-nil only on ctx cancellation.
func (idx *ProjectIndex) Warm(ctx context.Context, store *registry.Store) (int, error) {
	records := store.Records()
	if len(records) == 0 {
		return 0, nil
	}

	idx.logger.Info("project index: warm-up starting",
		slog.Int("record_count", len(records)),
		slog.String("model", idx.embedder.Model()),
	)

	var added int64
	var addedMu sync.Mutex

	idx.mu.RLock()
	concurrency := idx.warmConcurrency
	idx.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, concurrency)

	for _, record := range records {
		r := record
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			before := idx.Len()
			if err := idx.AddProject(gctx, r); err != nil {
				idx.logger.Warn("project index: failed to embed record",
					slog.String("project_id", r.ProjectID),
					slog.String("error", err.Error()),
				)
				return nil // individual failure is not fatal
			}
			if idx.Len() > before {
				addedMu.Lock()
				added++
				addedMu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()

	if flushErr := idx.Flush(); flushErr != nil {
		idx.logger.Warn("project index: flush after warm-up failed",
			slog.String("error", flushErr.Error()),
		)
	}

	idx.logger.Info("project index: warm-up complete",
		slog.Int64("embedded", added),
		slog.Int("total", idx.Len()),
	)

	if err != nil {
		return int(added), fmt.Errorf("index warm-up: %w", err)
	}
	return int(added), nil
}

// Flush persists the current entry set to disk.
func (idx *ProjectIndex) Flush() error {
	idx.mu.Lock()
	idx.dirty = 0
	idx.mu.Unlock()
	return idx.persist()
}

// persist snapshots the entries under a read lock and writes them out.
func (idx *ProjectIndex) persist() error {
	idx.mu.RLock()
	snapshot := make(map[string]Entry, len(idx.entries))
	for id, e := range idx.entries {
		snapshot[id] = e
	}
	idx.mu.RUnlock()

	return idx.storage.save(snapshot)
}

// Len returns the number of indexed projects.
func (idx *ProjectIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Entry returns the stored entry for a project ID.
func (idx *ProjectIndex) Entry(projectID string) (Entry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[projectID]
	return e, ok
}

// Stats reports index size and cache-file state for diagnostics.
func (idx *ProjectIndex) Stats() Stats {
	return Stats{
		TotalProjects:  idx.Len(),
		VectorCache:    idx.storage.vectorFileExists(),
		MetadataCache:  idx.storage.metadataFileExists(),
		EmbeddingModel: idx.embedder.Model(),
	}
}

// Stats summarizes the index state.
type Stats struct {
	TotalProjects  int    `json:"total_projects"`
	VectorCache    bool   `json:"vector_cache"`
	MetadataCache  bool   `json:"metadata_cache"`
	EmbeddingModel string `json:"embedding_model"`
}

// =============================================================================
// Vector Math
// =============================================================================

// cosineSimilarity computes cosine similarity clamped to [0, 1].
// Mismatched lengths use the shorter vector; a zero-norm vector scores 0.
func cosineSimilarity(a, b []float32) float64 {
	dot := dotProduct(a, b)
	na := l2Norm(a)
	nb := l2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := float64(dot) / (na * nb)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// l2Norm computes the L2 (Euclidean) norm of a float32 vector.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dotProduct computes the dot product of two float32 vectors.
func dotProduct(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
