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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
)

// ErrorResponse is the JSON error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Handlers holds the HTTP handlers for the resolution service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates the handler set for a service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleResolve handles POST /v1/resolve.
//
// Description:
//
//	Accepts one structured resolution query and returns the chain's
//	result. Unresolvable queries are a successful response with method
//	"unresolved", not an error: the caller decides how to triage them.
//
// Response:
//
//	200 OK: datatypes.ResolutionResult
//	400 Bad Request: Malformed JSON body
//
// Thread Safety: Safe for concurrent use.
func (h *Handlers) HandleResolve(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolve")

	var query datatypes.ResolutionQuery
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid resolution query: " + err.Error(),
			Code:  "INVALID_QUERY",
		})
		return
	}

	result, err := h.svc.Resolve(c.Request.Context(), query)
	if err != nil {
		// The resolver only errors on context cancellation.
		logger.Warn("resolution aborted", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "resolution aborted",
			Code:  "RESOLUTION_ABORTED",
		})
		return
	}

	logger.Info("resolved",
		slog.String("project_id", result.ProjectID),
		slog.String("method", string(result.Method)),
		slog.Float64("confidence", result.Confidence),
	)
	c.JSON(http.StatusOK, result)
}

// HandleListProjects handles GET /v1/projects.
//
// Response:
//
//	200 OK: {"projects": [...], "count": n}
func (h *Handlers) HandleListProjects(c *gin.Context) {
	projects := h.svc.Projects()
	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"count":    len(projects),
	})
}

// HandleGetProject handles GET /v1/projects/:id.
//
// Response:
//
//	200 OK: registry.ProjectRecord
//	404 Not Found: Unknown project ID
func (h *Handlers) HandleGetProject(c *gin.Context) {
	id := c.Param("id")
	record, ok := h.svc.Project(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "project not found: " + id,
			Code:  "PROJECT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleWarm handles POST /v1/index/warm.
//
// Description:
//
//	Embeds every registry record into the index. Individual embed
//	failures are skipped; only total backend loss errors the request.
//
// Response:
//
//	200 OK: {"indexed": n}
//	502 Bad Gateway: Embedding backend unreachable
func (h *Handlers) HandleWarm(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleWarm")

	indexed, err := h.svc.Warm(c.Request.Context())
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{
				Error: "warm-up aborted",
				Code:  "WARMUP_ABORTED",
			})
			return
		}
		logger.Warn("index warm-up failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error: "index warm-up failed: " + err.Error(),
			Code:  "WARMUP_FAILED",
		})
		return
	}

	logger.Info("index warmed", slog.Int("indexed", indexed))
	c.JSON(http.StatusOK, gin.H{"indexed": indexed})
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

// HandleHealth handles GET /v1/health.
//
// Response:
//
//	200 OK: {"status": "ok", ...} when the registry has records
//	503 Service Unavailable: Empty registry (nothing can resolve)
func (h *Handlers) HandleHealth(c *gin.Context) {
	stats := h.svc.Stats()
	if stats.Projects == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"reason": "project registry is empty",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"projects": stats.Projects,
		"indexed":  stats.Index.TotalProjects,
	})
}

// RegisterRoutes mounts the resolution endpoints under the given group.
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/resolve", h.HandleResolve)
	rg.GET("/projects", h.HandleListProjects)
	rg.GET("/projects/:id", h.HandleGetProject)
	rg.POST("/index/warm", h.HandleWarm)
	rg.GET("/stats", h.HandleStats)
	rg.GET("/health", h.HandleHealth)
}
