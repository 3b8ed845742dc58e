// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"testing"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
)

func TestNewEntity(t *testing.T) {
	e := New("/reports/工事報告_0612.txt", "基礎工事が完了しました。")

	if e.ID == "" {
		t.Error("ID must be assigned")
	}
	if e.FileName != "工事報告_0612.txt" {
		t.Errorf("FileName = %q, want 工事報告_0612.txt", e.FileName)
	}
	if e.ReportType != TypeOther {
		t.Errorf("ReportType = %s, want OTHER before classification", e.ReportType)
	}
	if e.SourceHash != ContentHash([]byte("基礎工事が完了しました。")) {
		t.Error("SourceHash must be the content hash")
	}
	if e.CreatedAt.IsZero() || e.ProcessedAt.IsZero() {
		t.Error("timestamps must be set")
	}
}

func TestNewEntityIdentity(t *testing.T) {
	a := New("/reports/a.txt", "同一内容")
	b := New("/reports/b.txt", "同一内容")

	if a.ID == b.ID {
		t.Error("distinct entities must get distinct IDs")
	}
	if a.SourceHash != b.SourceHash {
		t.Error("identical content must share a source hash")
	}
}

func TestAttachResolutionMirrorsReviewFlag(t *testing.T) {
	e := New("/reports/a.txt", "x")
	e.AttachResolution(datatypes.ResolutionResult{
		ProjectID:  "PRJ-001",
		Confidence: 0.95,
		Method:     datatypes.MethodVector,
	})
	if e.Resolution == nil || e.Resolution.ProjectID != "PRJ-001" {
		t.Fatal("resolution must be attached")
	}
	if e.RequiresHumanReview {
		t.Error("confident vector resolution must not flag review")
	}

	low := New("/reports/b.txt", "y")
	low.AttachResolution(datatypes.ResolutionResult{
		ProjectID:  "PRJ-001",
		Confidence: 0.3,
		Method:     datatypes.MethodVector,
	})
	if !low.RequiresHumanReview {
		t.Error("low-confidence resolution must flag review")
	}

	fb := New("/reports/c.txt", "z")
	fb.AttachResolution(datatypes.ResolutionResult{
		ProjectID:  "PRJ-001",
		Confidence: 0.1,
		Method:     datatypes.MethodFallback,
	})
	if !fb.RequiresHumanReview {
		t.Error("fallback resolution must flag review")
	}
}

func TestContentHash(t *testing.T) {
	if got := ContentHash([]byte("")); len(got) != 64 {
		t.Errorf("hash length = %d, want 64", len(got))
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Error("different content must hash differently")
	}
	if ContentHash([]byte("a")) != ContentHash([]byte("a")) {
		t.Error("hash must be deterministic")
	}
}
