// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry loads and holds the canonical project master records that
// every report resolution is matched against.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrMasterDataMissing indicates the project master file is absent or
// unreadable. Resolution is impossible without master data, so callers
// treat this as fatal at startup.
var ErrMasterDataMissing = errors.New("project master data missing")

// =============================================================================
// ProjectRecord
// =============================================================================

// ProjectRecord is one canonical case/site in the project master registry.
//
// # Description
//
// Records are loaded once at startup and treated as immutable within a
// process. JSON field names match the master registry file layout produced
// by the master-data export. Only ProjectID, ProjectName and Location are
// guaranteed present; the remaining fields are optional and omitted from
// the description when empty.
type ProjectRecord struct {
	ProjectID         string `json:"project_id"`
	ProjectName       string `json:"project_name"`
	Location          string `json:"location"`
	StationName       string `json:"station_name,omitempty"`
	StationNumber     string `json:"station_number,omitempty"`
	PlanName          string `json:"aurora_plan,omitempty"`
	ResponsiblePerson string `json:"responsible_person,omitempty"`
	CurrentPhase      string `json:"current_phase,omitempty"`
}

// Describe builds the canonical text description for a record.
//
// # Description
//
// Concatenates the present fields in a fixed priority order with the same
// labelled segments the master data uses. Absent fields are omitted — the
// description never contains "null" or placeholder tokens. This description
// is the only text that is ever embedded for a project; raw report text is
// deliberately never embedded, to prevent topic drift.
//
// # Outputs
//
//   - string: Labelled, space-joined description. Empty only if every field
//     of the record is empty.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func (r ProjectRecord) Describe() string {
	parts := make([]string, 0, 7)
	appendPart := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	appendPart("プロジェクト名", r.ProjectName)
	appendPart("局名", r.StationName)
	appendPart("局番", r.StationNumber)
	appendPart("場所", r.Location)
	appendPart("Aurora計画", r.PlanName)
	appendPart("担当者", r.ResponsiblePerson)
	appendPart("現在フェーズ", r.CurrentPhase)

	return strings.Join(parts, " ")
}

// =============================================================================
// Store
// =============================================================================

// Store holds an in-memory snapshot of the project master registry.
//
// # Description
//
// The snapshot is immutable between refreshes: readers always see a
// consistent record set. Replace swaps the entire snapshot atomically,
// which is how an external master-data refresh (see Watcher) is applied
// without disturbing in-flight resolutions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []ProjectRecord
	byID    map[string]ProjectRecord
}

// NewStore creates a Store over the given records.
//
// Records with an empty project_id are dropped with no error — they can
// never be resolved against and would poison direct matching. Duplicate
// IDs keep the first occurrence.
func NewStore(records []ProjectRecord) *Store {
	s := &Store{}
	s.Replace(records)
	return s
}

// LoadStore reads the master registry file and builds a Store.
//
// # Description
//
// The master file is a JSON array of project records. A missing or
// unreadable file returns ErrMasterDataMissing (wrapped with the path) —
// this is fatal for the caller, since no resolution strategy can work
// without master data. A present-but-malformed file is also fatal.
//
// # Inputs
//
//   - masterPath: Path to the master registry JSON file.
//
// # Outputs
//
//   - *Store: Loaded store. Nil on error.
//   - error: ErrMasterDataMissing (wrapped) if the file is absent or
//     unreadable; a decode error if the JSON is malformed.
func LoadStore(masterPath string) (*Store, error) {
	records, err := LoadRecords(masterPath)
	if err != nil {
		return nil, err
	}
	return NewStore(records), nil
}

// LoadRecords reads and decodes the master registry file.
func LoadRecords(masterPath string) ([]ProjectRecord, error) {
	raw, err := os.ReadFile(masterPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMasterDataMissing, masterPath, err)
	}

	var records []ProjectRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode master registry %s: %w", masterPath, err)
	}
	return records, nil
}

// Replace atomically swaps the store's snapshot for a new record set.
func (s *Store) Replace(records []ProjectRecord) {
	kept := make([]ProjectRecord, 0, len(records))
	byID := make(map[string]ProjectRecord, len(records))
	for _, r := range records {
		if r.ProjectID == "" {
			continue
		}
		if _, dup := byID[r.ProjectID]; dup {
			continue
		}
		byID[r.ProjectID] = r
		kept = append(kept, r)
	}

	s.mu.Lock()
	s.records = kept
	s.byID = byID
	s.mu.Unlock()
}

// Get returns the record with the given project ID.
func (s *Store) Get(projectID string) (ProjectRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[projectID]
	return r, ok
}

// Records returns a copy of the current snapshot.
func (s *Store) Records() []ProjectRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProjectRecord, len(s.records))
	copy(out, s.records)
	return out
}

// First returns the first record of the snapshot, in master-file order.
// Used by the resolver's last-resort fallback when the embedding backend
// is unavailable.
func (s *Store) First() (ProjectRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return ProjectRecord{}, false
	}
	return s.records[0], true
}

// Len returns the number of records in the snapshot.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
