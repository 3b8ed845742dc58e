// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entitycache persists resolved report entities as a JSON/binary
// file pair per entity and reconstitutes them, singly or in bulk, for
// downstream consumers.
package entitycache

// =============================================================================
// Entity Cache
// =============================================================================
//
// Two files per entity:
//
//	<dir>/<id>.json    authoritative, human-readable, hand-editable
//	<dir>/<id>.cache   gob fast path, regenerated from JSON on demand
//
// The JSON is the source of truth: Save writes it synchronously before
// regenerating the binary. Load prefers the binary only while it is at
// least as new as the JSON; a corrupt binary is deleted and transparently
// rebuilt from JSON. Concurrent writers to the same entity are not
// supported (single-writer assumption).

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/FieldResolve/services/resolve/report"
)

// ErrNotFound indicates neither cache file exists for the entity.
var ErrNotFound = errors.New("entity not cached")

// ErrStale indicates the cached entity's source hash no longer matches the
// current source content.
var ErrStale = errors.New("cached entity is stale")

// Cache persists report entities under a single directory.
//
// # Thread Safety
//
// Safe for concurrent use across distinct entity IDs. Concurrent Save
// calls for the same ID are not supported.
type Cache struct {
	dir    string
	logger *slog.Logger
}

// NewCache creates a Cache rooted at dir, creating it if absent.
func NewCache(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create entity cache dir %s: %w", dir, err)
	}
	return &Cache{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// JSONPath returns the authoritative JSON path for an entity ID.
func (c *Cache) JSONPath(id string) string {
	return filepath.Join(c.dir, id+".json")
}

// BinaryPath returns the gob fast-path file for an entity ID.
func (c *Cache) BinaryPath(id string) string {
	return filepath.Join(c.dir, id+".cache")
}

// Save persists an entity: JSON synchronously (source of truth), then the
// binary fast path.
//
// # Description
//
// A JSON write failure is returned — the entity is not persisted. A
// binary write failure after a successful JSON write is logged and
// absorbed: the next Load regenerates the binary from JSON.
func (c *Cache) Save(e *report.Entity) error {
	raw, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", e.ID, err)
	}
	if err := writeFileAtomic(c.JSONPath(e.ID), raw); err != nil {
		return fmt.Errorf("write entity json %s: %w", e.ID, err)
	}

	if err := writeBinary(c.BinaryPath(e.ID), e); err != nil {
		c.logger.Warn("entity cache: binary write failed, JSON remains authoritative",
			slog.String("entity_id", e.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Load reconstitutes an entity by ID.
//
// # Description
//
//  1. If the binary cache exists and is at least as new as the JSON, it is
//     deserialized. A corrupt binary is deleted and step 2 runs instead.
//  2. Otherwise the JSON is deserialized and the binary cache is
//     opportunistically regenerated (best effort).
//
// # Outputs
//
//   - *report.Entity: The cached entity.
//   - error: ErrNotFound if neither file exists; a decode error if the
//     JSON itself is unreadable.
func (c *Cache) Load(id string) (*report.Entity, error) {
	return loadSmart(c.JSONPath(id), c.BinaryPath(id), c.logger)
}

// LoadValidated loads an entity and rejects it when its stored source hash
// does not match currentSourceHash (the hash of the source file as it is
// now). Pass "" to skip validation.
func (c *Cache) LoadValidated(id, currentSourceHash string) (*report.Entity, error) {
	e, err := c.Load(id)
	if err != nil {
		return nil, err
	}
	if currentSourceHash != "" && e.SourceHash != currentSourceHash {
		return nil, fmt.Errorf("%w: entity %s", ErrStale, id)
	}
	return e, nil
}

// =============================================================================
// Load/Store Internals
// =============================================================================

// loadSmart implements the binary-first, JSON-fallback load shared by
// Cache.Load and the bulk loader.
func loadSmart(jsonPath, binaryPath string, logger *slog.Logger) (*report.Entity, error) {
	jsonInfo, jsonErr := os.Stat(jsonPath)
	binInfo, binErr := os.Stat(binaryPath)
	jsonExists := jsonErr == nil
	binExists := binErr == nil

	if !jsonExists && !binExists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jsonPath)
	}

	if binExists && (!jsonExists || !binInfo.ModTime().Before(jsonInfo.ModTime())) {
		e, err := readBinary(binaryPath)
		if err == nil {
			return e, nil
		}
		// Corrupt fast path: delete and recover from JSON.
		logger.Warn("entity cache: corrupt binary, falling back to JSON",
			slog.String("path", binaryPath),
			slog.String("error", err.Error()),
		)
		_ = os.Remove(binaryPath)
	}

	if !jsonExists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jsonPath)
	}

	e, err := readJSON(jsonPath)
	if err != nil {
		return nil, err
	}

	// Regenerate the fast path for next time. Failure is logged, not fatal.
	if err := writeBinary(binaryPath, e); err != nil {
		logger.Warn("entity cache: binary regeneration failed",
			slog.String("path", binaryPath),
			slog.String("error", err.Error()),
		)
	}
	return e, nil
}

func readJSON(path string) (*report.Entity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity json %s: %w", path, err)
	}
	var e report.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entity json %s: %w", path, err)
	}
	return &e, nil
}

func readBinary(path string) (*report.Entity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entity cache %s: %w", path, err)
	}
	var e report.Entity
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return nil, fmt.Errorf("decode entity cache %s: %w", path, err)
	}
	return &e, nil
}

func writeBinary(path string, e *report.Entity) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("encode entity cache: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// writeFileAtomic writes data via a same-directory temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
