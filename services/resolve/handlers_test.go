// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
	"github.com/AleutianAI/FieldResolve/services/resolve/index"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
)

// newTestRouter builds a full HTTP stack over a warmed index.
func newTestRouter(t *testing.T, records []registry.ProjectRecord) (*gin.Engine, *fakeEmbedder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	emb := &fakeEmbedder{}
	store := registry.NewStore(records)
	idx, err := index.NewProjectIndex(t.TempDir(), emb, testLogger())
	if err != nil {
		t.Fatalf("NewProjectIndex: %v", err)
	}
	for _, rec := range records {
		if err := idx.AddProject(context.Background(), rec); err != nil {
			t.Fatalf("AddProject: %v", err)
		}
	}
	emb.calls.Store(0)

	svc := NewService(store, idx, ServiceConfig{Model: emb.Model(), Logger: testLogger()})
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc))
	return router, emb
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// POST /v1/resolve
// =============================================================================

func TestHandleResolveDirect(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodPost, "/v1/resolve",
		datatypes.ResolutionQuery{CandidateID: "PRJ-001"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var result datatypes.ResolutionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Method != datatypes.MethodDirect || result.ProjectID != "PRJ-001" {
		t.Errorf("got %s via %s, want PRJ-001 via direct", result.ProjectID, result.Method)
	}
}

func TestHandleResolveVector(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodPost, "/v1/resolve",
		datatypes.ResolutionQuery{StationName: "新宿東"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var result datatypes.ResolutionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Method != datatypes.MethodVector || result.ProjectID != "PRJ-002" {
		t.Errorf("got %s via %s, want PRJ-002 via vector", result.ProjectID, result.Method)
	}
	if result.Evidence == nil {
		t.Error("vector response must include evidence")
	}
}

func TestHandleResolveUnresolvedIsOK(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodPost, "/v1/resolve", datatypes.ResolutionQuery{})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (unresolved is not an error)", w.Code)
	}

	var result datatypes.ResolutionResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Method != datatypes.MethodUnresolved {
		t.Errorf("Method = %s, want unresolved", result.Method)
	}
}

func TestHandleResolveMalformedBody(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	req := httptest.NewRequest(http.MethodPost, "/v1/resolve", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Code != "INVALID_QUERY" {
		t.Errorf("Code = %q, want INVALID_QUERY", errResp.Code)
	}
}

// =============================================================================
// GET /v1/projects
// =============================================================================

func TestHandleListProjects(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodGet, "/v1/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Projects []registry.ProjectRecord `json:"projects"`
		Count    int                      `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Count != 2 || len(body.Projects) != 2 {
		t.Errorf("count = %d with %d records, want 2/2", body.Count, len(body.Projects))
	}
}

func TestHandleGetProject(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodGet, "/v1/projects/PRJ-002", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var record registry.ProjectRecord
	if err := json.Unmarshal(w.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if record.ProjectID != "PRJ-002" {
		t.Errorf("ProjectID = %s, want PRJ-002", record.ProjectID)
	}

	w = doJSON(t, router, http.MethodGet, "/v1/projects/PRJ-999", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown ID", w.Code)
	}
}

// =============================================================================
// Warm / Stats / Health
// =============================================================================

func TestHandleWarm(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodPost, "/v1/index/warm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct {
		Indexed int `json:"indexed"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Indexed != 2 {
		t.Errorf("indexed = %d, want 2", body.Indexed)
	}
}

func TestHandleStats(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())

	w := doJSON(t, router, http.MethodGet, "/v1/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats ServiceStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Projects != 2 || stats.Index.TotalProjects != 2 {
		t.Errorf("stats = %+v, want 2 projects / 2 indexed", stats)
	}
}

func TestHandleHealth(t *testing.T) {
	router, _ := newTestRouter(t, testRecords())
	w := doJSON(t, router, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	empty, _ := newTestRouter(t, nil)
	w = doJSON(t, empty, http.MethodGet, "/v1/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("empty registry status = %d, want 503", w.Code)
	}
}
