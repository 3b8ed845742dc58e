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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Project Resolution
// =============================================================================

var (
	// resolutionsTotal counts completed resolutions by outcome method.
	// Labels: method (direct, vector, fallback, unresolved)
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldresolve",
		Subsystem: "resolver",
		Name:      "resolutions_total",
		Help:      "Completed project resolutions by method",
	}, []string{"method"})

	// resolutionLatencySeconds measures end-to-end resolution latency.
	// Labels: method
	resolutionLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fieldresolve",
		Subsystem: "resolver",
		Name:      "latency_seconds",
		Help:      "End-to-end resolution latency by method",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"method"})

	// reviewFlaggedTotal counts resolutions flagged for human review.
	reviewFlaggedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fieldresolve",
		Subsystem: "resolver",
		Name:      "review_flagged_total",
		Help:      "Resolutions flagged for human review",
	})

	// resultCacheEventsTotal counts memoization cache outcomes.
	// Labels: event (hit, miss, error)
	resultCacheEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldresolve",
		Subsystem: "resolver",
		Name:      "result_cache_events_total",
		Help:      "Resolution memoization cache outcomes",
	}, []string{"event"})
)
