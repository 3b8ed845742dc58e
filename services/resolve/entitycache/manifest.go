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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// manifestFileName is the processing index stored alongside the per-entity
// cache files.
const manifestFileName = "index.json"

// Processing statuses recorded in the manifest.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ManifestEntry records the outcome of processing one source file.
type ManifestEntry struct {
	Status      string    `json:"status"`
	ResultFile  string    `json:"result_file,omitempty"`
	CacheFile   string    `json:"cache_file,omitempty"`
	SourceHash  string    `json:"source_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Manifest maps source file paths to their processing outcomes. It is the
// entry point for bulk reload: only files it lists as successful are
// considered cached.
type Manifest struct {
	ProcessedFiles map[string]ManifestEntry `json:"processed_files"`
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{ProcessedFiles: make(map[string]ManifestEntry)}
}

// LoadManifest reads the manifest from dir. A missing manifest is an
// os.ErrNotExist wrapped error so callers can degrade to an empty set.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.ProcessedFiles == nil {
		m.ProcessedFiles = make(map[string]ManifestEntry)
	}
	return &m, nil
}

// SaveManifest writes the manifest to dir atomically.
func SaveManifest(dir string, m *Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestFileName), raw); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Put records the outcome for a source file, stamping the processing time.
func (m *Manifest) Put(sourcePath string, e ManifestEntry) {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now()
	}
	m.ProcessedFiles[sourcePath] = e
}

// Successes returns the entries marked successful, keyed by source path.
func (m *Manifest) Successes() map[string]ManifestEntry {
	out := make(map[string]ManifestEntry)
	for src, e := range m.ProcessedFiles {
		if e.Status == StatusSuccess {
			out[src] = e
		}
	}
	return out
}
