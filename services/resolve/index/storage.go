// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

// =============================================================================
// Index Persistence
// =============================================================================
//
// Layout: one gob blob holding the full entry map plus a human-readable JSON
// metadata sidecar. The blob is the authoritative fast path; the sidecar
// exists so operators can inspect what is indexed (and when) without a
// decoder. A corrupt blob is never fatal — the index rebuilds from master
// data, so deleting the pair is always a safe recovery action.
//
//	<cacheDir>/project_vectors.gob     gob map[string]Entry
//	<cacheDir>/project_metadata.json   project_id → {hash, added_at, dims}

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	vectorFileName   = "project_vectors.gob"
	metadataFileName = "project_metadata.json"
)

// entryMeta is the JSON sidecar record for one indexed project.
type entryMeta struct {
	DescriptionHash string    `json:"description_hash"`
	AddedAt         time.Time `json:"added_at"`
	Dimensions      int       `json:"dimensions"`
}

// indexStorage owns the on-disk representation of a ProjectIndex.
type indexStorage struct {
	vectorPath   string
	metadataPath string
}

func newIndexStorage(cacheDir string) (*indexStorage, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", cacheDir, err)
	}
	return &indexStorage{
		vectorPath:   filepath.Join(cacheDir, vectorFileName),
		metadataPath: filepath.Join(cacheDir, metadataFileName),
	}, nil
}

// load reads the vector blob. A missing file returns an empty map and nil
// error (a normal first run); a present-but-undecodable blob returns an
// error so the caller can discard and rebuild.
func (s *indexStorage) load() (map[string]Entry, error) {
	raw, err := os.ReadFile(s.vectorPath)
	if os.IsNotExist(err) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read vector cache: %w", err)
	}

	var entries map[string]Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode vector cache: %w", err)
	}
	return entries, nil
}

// save writes the vector blob and regenerates the metadata sidecar.
// Writes go through a temp file + rename so a crash mid-write leaves the
// previous blob intact rather than a truncated one.
func (s *indexStorage) save(entries map[string]Entry) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("encode vector cache: %w", err)
	}
	if err := writeFileAtomic(s.vectorPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write vector cache: %w", err)
	}

	meta := make(map[string]entryMeta, len(entries))
	for id, e := range entries {
		meta[id] = entryMeta{
			DescriptionHash: e.DescriptionHash,
			AddedAt:         e.AddedAt,
			Dimensions:      len(e.Vector),
		}
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata sidecar: %w", err)
	}
	if err := writeFileAtomic(s.metadataPath, raw); err != nil {
		return fmt.Errorf("write metadata sidecar: %w", err)
	}
	return nil
}

// remove deletes both cache files. Used when the blob is corrupt.
func (s *indexStorage) remove() {
	_ = os.Remove(s.vectorPath)
	_ = os.Remove(s.metadataPath)
}

func (s *indexStorage) vectorFileExists() bool {
	_, err := os.Stat(s.vectorPath)
	return err == nil
}

func (s *indexStorage) metadataFileExists() bool {
	_, err := os.Stat(s.metadataPath)
	return err == nil
}

// writeFileAtomic writes data to path via a same-directory temp file and
// rename.
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
