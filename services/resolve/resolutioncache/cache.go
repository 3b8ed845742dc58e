// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolutioncache

// =============================================================================
// Resolution Result Memoization
// =============================================================================
//
// Vector resolution is the expensive path: one embedding round-trip plus a
// similarity scan per query. Reports arrive in batches that repeat the same
// station descriptions, so identical queries against an unchanged project
// registry are memoized in BadgerDB between runs.
//
// Storage layout:
//
//	resolve/result/v1/{registryHash}/{queryHash}  →  gob-encoded ResolutionResult
//
// The registry hash covers every record field plus the embedding model
// name, so editing the master data or switching models makes all previous
// entries unreachable. Stale entries expire via BadgerDB's native TTL; no
// explicit invalidation API exists.

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
	badgerstore "github.com/AleutianAI/FieldResolve/services/resolve/storage/badger"
)

// defaultTTL is the lifetime of a memoized resolution. Long enough to cover
// a reporting cycle without keeping results for registries that no longer
// exist.
const defaultTTL = 7 * 24 * time.Hour

// keyPrefix is versioned so the value format can change without collision.
const keyPrefix = "resolve/result/v1/"

// errCacheMiss distinguishes an absent key from a storage failure.
var errCacheMiss = errors.New("cache miss")

// Store memoizes resolution results across service restarts.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load retrieves a memoized result for the query text under the given
	// registry hash. Returns (nil, nil) on miss or TTL expiry.
	Load(ctx context.Context, registryHash, queryText string) (*datatypes.ResolutionResult, error)

	// Save memoizes a result. Storage failure is the only error; callers
	// log it and continue since the result can always be recomputed.
	Save(ctx context.Context, registryHash, queryText string, result *datatypes.ResolutionResult) error
}

// BadgerStore implements Store backed by a BadgerDB instance. The DB is a
// service-global singleton opened at startup; this store does not own its
// lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type BadgerStore struct {
	db     *badgerstore.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadgerStore creates a BadgerStore. Pass ttl 0 for the default.
func NewBadgerStore(db *badgerstore.DB, ttl time.Duration, logger *slog.Logger) *BadgerStore {
	if db == nil {
		panic("NewBadgerStore: db must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, ttl: ttl, logger: logger}
}

// Load retrieves a memoized resolution result.
//
// # Outputs
//
//   - *datatypes.ResolutionResult: The memoized result. Nil on miss.
//   - error: Non-nil on storage or decode failure only.
func (s *BadgerStore) Load(ctx context.Context, registryHash, queryText string) (*datatypes.ResolutionResult, error) {
	key := cacheKey(registryHash, queryText)

	var raw []byte
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, dgbadger.ErrKeyNotFound) {
			return errCacheMiss
		}
		if err != nil {
			return fmt.Errorf("get cache key: %w", err)
		}
		raw, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy value: %w", err)
		}
		return nil
	})

	if errors.Is(err, errCacheMiss) {
		s.logger.Debug("resolution cache: miss", slog.String("registry_hash", shortHash(registryHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolution cache load: %w", err)
	}

	var result datatypes.ResolutionResult
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&result); err != nil {
		return nil, fmt.Errorf("resolution cache decode: %w", err)
	}

	s.logger.Debug("resolution cache: hit",
		slog.String("registry_hash", shortHash(registryHash)),
		slog.String("project_id", result.ProjectID),
	)
	return &result, nil
}

// Save memoizes a resolution result with the configured TTL.
func (s *BadgerStore) Save(ctx context.Context, registryHash, queryText string, result *datatypes.ResolutionResult) error {
	if result == nil {
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(result); err != nil {
		return fmt.Errorf("resolution cache encode: %w", err)
	}

	key := cacheKey(registryHash, queryText)
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		entry := dgbadger.NewEntry(key, buf.Bytes()).WithTTL(s.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("resolution cache save: %w", err)
	}

	s.logger.Debug("resolution cache: saved",
		slog.String("registry_hash", shortHash(registryHash)),
		slog.String("project_id", result.ProjectID),
		slog.Duration("ttl", s.ttl),
	)
	return nil
}

// =============================================================================
// Registry Hash
// =============================================================================

// ComputeRegistryHash computes a deterministic SHA256 digest of the project
// registry and embedding model name.
//
// # Description
//
// Every record field participates: a change to any project's name, station,
// location, plan, phase, or contact produces a different hash, as does a
// model switch. Records are sorted by project ID so the digest is
// independent of master-data file ordering.
//
// # Outputs
//
//   - string: Lowercase hex-encoded SHA256 digest (64 characters).
func ComputeRegistryHash(records []registry.ProjectRecord, model string) string {
	sorted := make([]registry.ProjectRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProjectID < sorted[j].ProjectID
	})

	h := sha256.New()
	for _, r := range sorted {
		// Tab-delimited fields; newline terminates each record.
		fmt.Fprintf(h, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ProjectID, r.ProjectName, r.StationName, r.StationNumber,
			r.Location, r.PlanName, r.ResponsiblePerson, r.CurrentPhase,
		)
	}
	fmt.Fprintf(h, "model=%s\n", model)

	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Helpers
// =============================================================================

// cacheKey builds the BadgerDB key for a registry hash and query text. The
// query is hashed so arbitrary-length Japanese descriptions produce
// fixed-size keys.
func cacheKey(registryHash, queryText string) []byte {
	q := sha256.Sum256([]byte(queryText))
	return []byte(keyPrefix + registryHash + "/" + hex.EncodeToString(q[:]))
}

// shortHash returns the first 8 characters of a hash for log display.
func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}
