// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the resolution query and result types shared
// between the resolver, the HTTP surface, and persisted report entities.
package datatypes

import (
	"strings"

	"github.com/AleutianAI/FieldResolve/services/resolve/evidence"
)

// MatchMethod states which strategy produced a resolution.
type MatchMethod string

const (
	// MethodDirect: the extracted candidate ID matched the registry exactly.
	MethodDirect MatchMethod = "direct"

	// MethodVector: embedding similarity search chose the project.
	MethodVector MatchMethod = "vector"

	// MethodFallback: the embedding backend was unavailable and the first
	// registry record was assigned at minimal confidence as a triage
	// default.
	MethodFallback MatchMethod = "fallback"

	// MethodUnresolved: no strategy could assign a project.
	MethodUnresolved MatchMethod = "unresolved"
)

// ReviewThreshold is the confidence below which a non-direct resolution is
// flagged for human review.
const ReviewThreshold = 0.7

// ResolutionQuery is the structured signal extracted upstream from one
// report. Every field is optional; an absent field is the empty string,
// never a placeholder token. The raw document never reaches the resolver.
type ResolutionQuery struct {
	CandidateID       string `json:"candidate_id,omitempty"`
	StationName       string `json:"station_name,omitempty"`
	Location          string `json:"location,omitempty"`
	StationNumber     string `json:"station_number,omitempty"`
	PlanName          string `json:"plan_name,omitempty"`
	ResponsiblePerson string `json:"responsible_person,omitempty"`
}

// VectorQueryText builds the text embedded for similarity search, from
// whichever fields are present, in priority order, with the same labelled
// segments the master descriptions use. Returns "" when no field is
// usable — the caller treats that as unresolvable.
func (q ResolutionQuery) VectorQueryText() string {
	parts := make([]string, 0, 5)
	appendPart := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}

	appendPart("局名", q.StationName)
	appendPart("場所", q.Location)
	appendPart("局番", q.StationNumber)
	appendPart("Aurora計画", q.PlanName)
	appendPart("担当者", q.ResponsiblePerson)

	return strings.Join(parts, " ")
}

// ResolutionResult is the outcome of resolving one query.
//
// ProjectID is empty exactly when Method is MethodUnresolved; any non-empty
// ProjectID refers to a record present in the registry at resolution time.
type ResolutionResult struct {
	ProjectID    string             `json:"project_id,omitempty"`
	Confidence   float64            `json:"confidence"`
	Method       MatchMethod        `json:"method"`
	Alternatives []string           `json:"alternatives,omitempty"`
	Evidence     *evidence.Evidence `json:"evidence,omitempty"`
	QueryText    string             `json:"query_text,omitempty"`
}

// Resolved reports whether a project was assigned.
func (r ResolutionResult) Resolved() bool {
	return r.ProjectID != ""
}

// NeedsReview reports whether the resolution should be routed to human
// review: anything non-direct below ReviewThreshold, and everything
// unresolved.
func (r ResolutionResult) NeedsReview() bool {
	if r.Method == MethodDirect {
		return false
	}
	if !r.Resolved() {
		return true
	}
	return r.Confidence < ReviewThreshold
}
