// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve assigns field reports to projects in the master registry.
// It layers three strategies: exact candidate-ID lookup, embedding
// similarity search with evidence scoring, and a minimal-confidence
// first-record fallback when the embedding backend is unreachable.
package resolve

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
	"github.com/AleutianAI/FieldResolve/services/resolve/evidence"
	"github.com/AleutianAI/FieldResolve/services/resolve/index"
	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
	"github.com/AleutianAI/FieldResolve/services/resolve/resolutioncache"
)

// tracer is the package-level OTel tracer for resolution spans.
var tracer = otel.Tracer("fieldresolve.resolve")

// fallbackConfidence is assigned when the embedding backend is down and the
// first registry record is used as a triage default. Low enough that every
// such resolution is flagged for review.
const fallbackConfidence = 0.1

// maxAlternatives bounds the alternatives list on a vector resolution.
// Review tooling shows at most two runner-up candidates.
const maxAlternatives = 2

// unknownSentinels are candidate-ID placeholder tokens emitted by upstream
// extraction when no ID was found in the report. They must never reach the
// registry lookup.
var unknownSentinels = map[string]struct{}{
	"不明":      {},
	"unknown": {},
	"n/a":     {},
	"none":    {},
	"null":    {},
}

// isUnknownSentinel reports whether a candidate ID is a placeholder rather
// than a real identifier.
func isUnknownSentinel(id string) bool {
	_, ok := unknownSentinels[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver assigns one project per query via the escalating strategy chain.
//
// # Description
//
// The chain runs strictly in order:
//
//  1. Direct: the query's candidate ID, when present and not a placeholder,
//     is looked up in the registry. A hit resolves at confidence 1.0 with
//     no embedding round-trip.
//  2. Vector: the query's labelled description is embedded and scanned
//     against the project index. The best hit's confidence comes from
//     evidence scoring, not raw similarity.
//  3. Fallback: when the embedding backend is unreachable, the first
//     registry record is assigned at minimal confidence so batch
//     processing can continue; the result is always review-flagged.
//
// An empty registry or an empty query text short-circuits to unresolved.
//
// # Thread Safety
//
// Safe for concurrent use.
type Resolver struct {
	store     *registry.Store
	index     *index.ProjectIndex
	results   resolutioncache.Store
	model     string
	topK      int
	threshold float64
	logger    *slog.Logger
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// TopK is the number of vector candidates to consider. 0 uses the
	// index default.
	TopK int

	// Threshold is the minimum similarity for a vector candidate.
	Threshold float64

	// ResultCache memoizes vector resolutions. Nil disables memoization.
	ResultCache resolutioncache.Store

	// Model is the embedding model name, used to key the memoization
	// cache to the registry contents.
	Model string

	// Logger for resolution diagnostics. Nil uses slog.Default.
	Logger *slog.Logger
}

// NewResolver creates a Resolver over a registry store and project index.
func NewResolver(store *registry.Store, idx *index.ProjectIndex, opts ResolverOptions) *Resolver {
	if store == nil {
		panic("NewResolver: store must not be nil")
	}
	if idx == nil {
		panic("NewResolver: index must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:     store,
		index:     idx,
		results:   opts.ResultCache,
		model:     opts.Model,
		topK:      opts.TopK,
		threshold: opts.Threshold,
		logger:    logger,
	}
}

// Resolve runs the strategy chain for one query.
//
// # Description
//
// All internal failures fold into the chain: an unreachable embedding
// backend produces a fallback result, an unmatched query an unresolved
// one. The only returned error is context cancellation.
//
// # Inputs
//
//   - ctx: Context for cancellation, honored before each strategy.
//   - query: Structured signals extracted from one report. All fields
//     optional.
//
// # Outputs
//
//   - datatypes.ResolutionResult: Never a zero value on nil error; Method
//     states which strategy produced it.
//   - error: Context cancellation only.
//
// # Thread Safety
//
// Safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, query datatypes.ResolutionQuery) (datatypes.ResolutionResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "Resolver.Resolve",
		trace.WithAttributes(
			attribute.Bool("query.has_candidate_id", query.CandidateID != ""),
			attribute.String("query.station_name", query.StationName),
		),
	)
	defer span.End()

	result, err := r.resolve(ctx, query)
	if err != nil {
		span.AddEvent("cancelled")
		return datatypes.ResolutionResult{}, err
	}

	method := string(result.Method)
	resolutionsTotal.WithLabelValues(method).Inc()
	resolutionLatencySeconds.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if result.NeedsReview() {
		reviewFlaggedTotal.Inc()
	}
	span.SetAttributes(
		attribute.String("resolution.method", method),
		attribute.String("resolution.project_id", result.ProjectID),
		attribute.Float64("resolution.confidence", result.Confidence),
	)

	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, query datatypes.ResolutionQuery) (datatypes.ResolutionResult, error) {
	if err := ctx.Err(); err != nil {
		return datatypes.ResolutionResult{}, err
	}

	if r.store.Len() == 0 {
		r.logger.Warn("resolve: empty project registry, nothing to match against")
		return datatypes.ResolutionResult{Method: datatypes.MethodUnresolved}, nil
	}

	if result, ok := r.resolveDirect(query); ok {
		return result, nil
	}

	return r.resolveVector(ctx, query)
}

// resolveDirect attempts the exact candidate-ID lookup. The second return
// is false when the chain must continue.
func (r *Resolver) resolveDirect(query datatypes.ResolutionQuery) (datatypes.ResolutionResult, bool) {
	id := strings.TrimSpace(query.CandidateID)
	if id == "" || isUnknownSentinel(id) {
		return datatypes.ResolutionResult{}, false
	}

	record, ok := r.store.Get(id)
	if !ok {
		// An extracted ID that is not in the registry is treated as
		// extraction noise, not as a hard failure.
		r.logger.Info("resolve: candidate ID not in registry, escalating to vector search",
			slog.String("candidate_id", id),
		)
		return datatypes.ResolutionResult{}, false
	}

	r.logger.Debug("resolve: direct hit",
		slog.String("project_id", record.ProjectID),
	)
	return datatypes.ResolutionResult{
		ProjectID:  record.ProjectID,
		Confidence: 1.0,
		Method:     datatypes.MethodDirect,
	}, true
}

// resolveVector runs the embedding similarity stage, consulting and
// populating the memoization cache when one is configured.
func (r *Resolver) resolveVector(ctx context.Context, query datatypes.ResolutionQuery) (datatypes.ResolutionResult, error) {
	queryText := query.VectorQueryText()
	if queryText == "" {
		r.logger.Info("resolve: no usable query fields")
		return datatypes.ResolutionResult{Method: datatypes.MethodUnresolved}, nil
	}

	var registryHash string
	if r.results != nil {
		registryHash = resolutioncache.ComputeRegistryHash(r.store.Records(), r.model)
		if cached, err := r.results.Load(ctx, registryHash, queryText); err != nil {
			resultCacheEventsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("resolve: result cache load failed",
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			resultCacheEventsTotal.WithLabelValues("hit").Inc()
			return *cached, nil
		} else {
			resultCacheEventsTotal.WithLabelValues("miss").Inc()
		}
	}

	hits, err := r.index.Search(ctx, queryText, r.topK, r.threshold)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return datatypes.ResolutionResult{}, ctxErr
		}
		return r.resolveFallback(queryText, err), nil
	}

	result := r.buildVectorResult(queryText, hits)
	if r.results != nil && result.Method == datatypes.MethodVector {
		if err := r.results.Save(ctx, registryHash, queryText, &result); err != nil {
			r.logger.Warn("resolve: result cache save failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return result, nil
}

// buildVectorResult turns ranked search hits into a resolution with
// evidence-adjusted confidence. Hits whose project has vanished from the
// registry (index lagging behind a reload) are skipped.
func (r *Resolver) buildVectorResult(queryText string, hits []index.SearchResult) datatypes.ResolutionResult {
	for i, hit := range hits {
		record, ok := r.store.Get(hit.ProjectID)
		if !ok {
			r.logger.Warn("resolve: indexed project missing from registry, skipping",
				slog.String("project_id", hit.ProjectID),
			)
			continue
		}

		ev := evidence.Explain(queryText, hit.Similarity, record)

		alternatives := make([]string, 0, maxAlternatives)
		for _, alt := range hits[i+1:] {
			if len(alternatives) == maxAlternatives {
				break
			}
			alternatives = append(alternatives, alt.ProjectID)
		}

		r.logger.Debug("resolve: vector hit",
			slog.String("project_id", record.ProjectID),
			slog.Float64("similarity", hit.Similarity),
			slog.Float64("confidence", ev.Confidence),
			slog.Int("match_count", ev.MatchCount()),
		)
		return datatypes.ResolutionResult{
			ProjectID:    record.ProjectID,
			Confidence:   ev.Confidence,
			Method:       datatypes.MethodVector,
			Alternatives: alternatives,
			Evidence:     &ev,
			QueryText:    queryText,
		}
	}

	r.logger.Info("resolve: no vector candidate above threshold",
		slog.String("query", queryText),
	)
	return datatypes.ResolutionResult{
		Method:    datatypes.MethodUnresolved,
		QueryText: queryText,
	}
}

// resolveFallback assigns the first registry record at minimal confidence
// when the embedding backend is unreachable. Batch ingestion keeps moving;
// every fallback result is review-flagged by construction.
func (r *Resolver) resolveFallback(queryText string, cause error) datatypes.ResolutionResult {
	first, ok := r.store.First()
	if !ok {
		return datatypes.ResolutionResult{Method: datatypes.MethodUnresolved, QueryText: queryText}
	}

	r.logger.Warn("resolve: embedding backend unavailable, using first-record fallback",
		slog.String("project_id", first.ProjectID),
		slog.String("error", cause.Error()),
	)
	return datatypes.ResolutionResult{
		ProjectID:  first.ProjectID,
		Confidence: fallbackConfidence,
		Method:     datatypes.MethodFallback,
		QueryText:  queryText,
	}
}
