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
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
	"github.com/AleutianAI/FieldResolve/services/resolve/report"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	return c
}

func newTestEntity(id string) *report.Entity {
	now := time.Date(2025, 6, 12, 9, 30, 0, 0, time.UTC)
	return &report.Entity{
		ID:          id,
		FilePath:    "/reports/" + id + ".txt",
		FileName:    id + ".txt",
		ReportType:  report.TypeConstructionReport,
		Content:     "基礎工事が完了しました。",
		CreatedAt:   now,
		ProcessedAt: now.Add(2 * time.Minute),
		SourceHash:  report.ContentHash([]byte("source-" + id)),
		Resolution: &datatypes.ResolutionResult{
			ProjectID:  "PRJ-100",
			Confidence: 0.82,
			Method:     datatypes.MethodVector,
		},
		Analysis: &report.AnalysisResult{
			Summary:    "foundation work complete",
			KeyPoints:  []string{"on schedule"},
			Confidence: 0.9,
		},
		StatusFlag:         report.StatusNormal,
		RiskLevel:          report.RiskLow,
		ConstructionStatus: report.ConstructionInProgress,
		AnalysisConfidence: 0.9,
		UrgencyScore:       2,
	}
}

// touch forces a file's mtime, so tests can control which tier of the
// cache is considered fresher.
func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

// =============================================================================
// Save / Load
// =============================================================================

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	c := newTestCache(t)
	want := newTestEntity("rt-1")

	if err := c.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := c.Load("rt-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entity mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheSaveWritesBothTiers(t *testing.T) {
	c := newTestCache(t)
	if err := c.Save(newTestEntity("tiers")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(c.JSONPath("tiers")); err != nil {
		t.Errorf("JSON file missing: %v", err)
	}
	if _, err := os.Stat(c.BinaryPath("tiers")); err != nil {
		t.Errorf("binary file missing: %v", err)
	}
}

func TestCacheLoadMissing(t *testing.T) {
	c := newTestCache(t)
	if _, err := c.Load("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing: got %v, want ErrNotFound", err)
	}
}

func TestCacheLoadPrefersFresherBinary(t *testing.T) {
	c := newTestCache(t)
	e := newTestEntity("fresh-bin")
	if err := c.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Sabotage the JSON; a fresher binary means it is never read.
	if err := os.WriteFile(c.JSONPath("fresh-bin"), []byte("not json"), 0o644); err != nil {
		t.Fatalf("overwrite json: %v", err)
	}
	touch(t, c.BinaryPath("fresh-bin"), time.Now().Add(time.Hour))

	got, err := c.Load("fresh-bin")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != "fresh-bin" {
		t.Errorf("ID = %q, want fresh-bin", got.ID)
	}
}

// =============================================================================
// Corruption Recovery
// =============================================================================

func TestCacheCorruptBinaryRecoversFromJSON(t *testing.T) {
	c := newTestCache(t)
	want := newTestEntity("corrupt")
	if err := c.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	binPath := c.BinaryPath("corrupt")
	if err := os.WriteFile(binPath, []byte{0xde, 0xad}, 0o644); err != nil {
		t.Fatalf("corrupt binary: %v", err)
	}
	touch(t, binPath, time.Now().Add(time.Hour))

	got, err := c.Load("corrupt")
	if err != nil {
		t.Fatalf("Load after corruption: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recovered entity mismatch (-want +got):\n%s", diff)
	}

	// The fast path must have been rebuilt and be readable again.
	rebuilt, err := readBinary(binPath)
	if err != nil {
		t.Fatalf("regenerated binary unreadable: %v", err)
	}
	if rebuilt.ID != "corrupt" {
		t.Errorf("regenerated binary ID = %q, want corrupt", rebuilt.ID)
	}
}

func TestCacheStaleBinaryRegeneratedFromJSON(t *testing.T) {
	c := newTestCache(t)
	e := newTestEntity("stale-bin")
	if err := c.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Hand-edit the JSON and mark it newer than the binary.
	e.UrgencyScore = 9
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	jsonPath := c.JSONPath("stale-bin")
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		t.Fatalf("rewrite json: %v", err)
	}
	touch(t, c.BinaryPath("stale-bin"), time.Now().Add(-time.Hour))

	got, err := c.Load("stale-bin")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UrgencyScore != 9 {
		t.Errorf("UrgencyScore = %d, want 9 (JSON edit must win)", got.UrgencyScore)
	}
}

// =============================================================================
// Source-Hash Validation
// =============================================================================

func TestCacheLoadValidated(t *testing.T) {
	c := newTestCache(t)
	e := newTestEntity("hash")
	if err := c.Save(e); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := c.LoadValidated("hash", e.SourceHash); err != nil {
		t.Errorf("matching hash: %v", err)
	}
	if _, err := c.LoadValidated("hash", "deadbeef"); !errors.Is(err, ErrStale) {
		t.Errorf("mismatched hash: got %v, want ErrStale", err)
	}
	if _, err := c.LoadValidated("hash", ""); err != nil {
		t.Errorf("empty hash skips validation: %v", err)
	}
}

// =============================================================================
// Manifest
// =============================================================================

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()

	m := NewManifest()
	m.Put("/reports/a.txt", ManifestEntry{
		Status:     StatusSuccess,
		ResultFile: "a.json",
		CacheFile:  "a.cache",
		SourceHash: "abc",
	})
	m.Put("/reports/b.txt", ManifestEntry{
		Status: StatusError,
		Error:  "parse failure",
	})
	if err := SaveManifest(dir, m); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}

	got, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(got.ProcessedFiles) != 2 {
		t.Fatalf("ProcessedFiles = %d, want 2", len(got.ProcessedFiles))
	}
	succ := got.Successes()
	if len(succ) != 1 {
		t.Fatalf("Successes = %d, want 1", len(succ))
	}
	if succ["/reports/a.txt"].ResultFile != "a.json" {
		t.Errorf("ResultFile = %q, want a.json", succ["/reports/a.txt"].ResultFile)
	}
	if got.ProcessedFiles["/reports/a.txt"].ProcessedAt.IsZero() {
		t.Error("Put must stamp ProcessedAt")
	}
}

func TestLoadManifestMissing(t *testing.T) {
	if _, err := LoadManifest(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("got %v, want os.ErrNotExist", err)
	}
}

// =============================================================================
// Bulk Load
// =============================================================================

// seedBulkDir persists n entities plus a manifest and returns their IDs.
func seedBulkDir(t *testing.T, c *Cache, n int) []string {
	t.Helper()
	m := NewManifest()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := string(rune('a'+i)) + "-entity"
		e := newTestEntity(id)
		if err := c.Save(e); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
		m.Put(e.FilePath, ManifestEntry{
			Status:     StatusSuccess,
			ResultFile: id + ".json",
			CacheFile:  id + ".cache",
			SourceHash: e.SourceHash,
		})
		ids = append(ids, id)
	}
	if err := SaveManifest(c.Dir(), m); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}
	return ids
}

func TestBulkLoadAllWorkerCountInvariant(t *testing.T) {
	c := newTestCache(t)
	seedBulkDir(t, c, 8)

	serial, err := NewBulkLoader(1, testLogger()).LoadAll(context.Background(), c.Dir())
	if err != nil {
		t.Fatalf("LoadAll workers=1: %v", err)
	}
	parallel, err := NewBulkLoader(8, testLogger()).LoadAll(context.Background(), c.Dir())
	if err != nil {
		t.Fatalf("LoadAll workers=8: %v", err)
	}

	if len(serial) != 8 {
		t.Fatalf("loaded %d entities, want 8", len(serial))
	}
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("worker count changed the result (-serial +parallel):\n%s", diff)
	}
}

func TestBulkLoadSkipsUnreadableEntities(t *testing.T) {
	c := newTestCache(t)
	ids := seedBulkDir(t, c, 3)

	// Destroy both tiers of the first entity.
	if err := os.Remove(c.JSONPath(ids[0])); err != nil {
		t.Fatalf("remove json: %v", err)
	}
	if err := os.Remove(c.BinaryPath(ids[0])); err != nil {
		t.Fatalf("remove binary: %v", err)
	}

	got, err := NewBulkLoader(4, testLogger()).LoadAll(context.Background(), c.Dir())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d entities, want 2", len(got))
	}
	for _, e := range got {
		if e.ID == ids[0] {
			t.Errorf("destroyed entity %s must not appear", ids[0])
		}
	}
}

func TestBulkLoadNoManifest(t *testing.T) {
	got, err := NewBulkLoader(2, testLogger()).LoadAll(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("loaded %d entities from empty dir, want 0", len(got))
	}
}

func TestBulkLoadCancelledContext(t *testing.T) {
	c := newTestCache(t)
	seedBulkDir(t, c, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewBulkLoader(2, testLogger()).LoadAll(ctx, c.Dir()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestBulkLoadCorruptBinaryStillLoads(t *testing.T) {
	c := newTestCache(t)
	ids := seedBulkDir(t, c, 2)

	binPath := c.BinaryPath(ids[1])
	if err := os.WriteFile(binPath, []byte("junk"), 0o644); err != nil {
		t.Fatalf("corrupt binary: %v", err)
	}
	touch(t, binPath, time.Now().Add(time.Hour))

	got, err := NewBulkLoader(2, testLogger()).LoadAll(context.Background(), c.Dir())
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("loaded %d entities, want 2 (JSON fallback)", len(got))
	}
	if _, err := os.Stat(filepath.Join(c.Dir(), ids[1]+".cache")); err != nil {
		t.Errorf("binary must be regenerated after fallback: %v", err)
	}
}
