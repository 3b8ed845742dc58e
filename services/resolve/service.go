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
	"log/slog"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
	"github.com/AleutianAI/FieldResolve/services/resolve/index"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
	"github.com/AleutianAI/FieldResolve/services/resolve/resolutioncache"
)

// =============================================================================
// Service
// =============================================================================

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// TopK is the number of vector candidates per resolution. 0 uses the
	// index default.
	TopK int

	// Threshold is the minimum similarity for a vector candidate.
	Threshold float64

	// Model is the embedding model name.
	Model string

	// ResultCache memoizes vector resolutions. Nil disables memoization.
	ResultCache resolutioncache.Store

	// Logger for service diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// Service ties the registry, index, and resolver together behind the API
// the HTTP handlers and CLI consume.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	store    *registry.Store
	index    *index.ProjectIndex
	resolver *Resolver
	logger   *slog.Logger
}

// NewService creates a Service over an already-loaded registry store and
// project index.
func NewService(store *registry.Store, idx *index.ProjectIndex, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resolver := NewResolver(store, idx, ResolverOptions{
		TopK:        cfg.TopK,
		Threshold:   cfg.Threshold,
		ResultCache: cfg.ResultCache,
		Model:       cfg.Model,
		Logger:      logger,
	})
	return &Service{
		store:    store,
		index:    idx,
		resolver: resolver,
		logger:   logger,
	}
}

// Resolve runs the strategy chain for one query.
func (s *Service) Resolve(ctx context.Context, query datatypes.ResolutionQuery) (datatypes.ResolutionResult, error) {
	return s.resolver.Resolve(ctx, query)
}

// Warm embeds every registry record into the index and returns how many
// entries the index now holds.
func (s *Service) Warm(ctx context.Context) (int, error) {
	return s.index.Warm(ctx, s.store)
}

// Projects returns a snapshot of the registry records.
func (s *Service) Projects() []registry.ProjectRecord {
	return s.store.Records()
}

// Project returns one registry record by ID.
func (s *Service) Project(projectID string) (registry.ProjectRecord, bool) {
	return s.store.Get(projectID)
}

// ServiceStats is a point-in-time snapshot for the stats endpoint.
type ServiceStats struct {
	Projects int         `json:"projects"`
	Index    index.Stats `json:"index"`
}

// Stats reports registry and index sizes.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Projects: s.store.Len(),
		Index:    s.index.Stats(),
	}
}
