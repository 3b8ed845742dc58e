// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence explains why a vector match was chosen, by finding the
// lexical overlap between a resolution query and the matched master record.
package evidence

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/AleutianAI/FieldResolve/services/resolve/registry"
)

// fuzzyMatchThreshold is the minimum Levenshtein similarity ratio for a
// token pair to count as a fuzzy match.
const fuzzyMatchThreshold = 0.8

// Confidence adjustment bounds. A vector score with at least one lexical
// match is boosted per match but never past boostCap; a score with zero
// lexical corroboration is distrusted and capped at noMatchCap regardless
// of how high the raw similarity is.
const (
	matchBoost = 0.05
	boostCap   = 0.95
	noMatchCap = 0.6
)

// Match is one query token found verbatim in the record, tagged with the
// record field it came from.
type Match struct {
	Token string `json:"token"`
	Field string `json:"field"`
}

// FuzzyMatch is a near-identical token pair (edit-distance ratio above
// fuzzyMatchThreshold).
type FuzzyMatch struct {
	QueryToken  string  `json:"query_token"`
	RecordToken string  `json:"record_token"`
	Field       string  `json:"field"`
	Ratio       float64 `json:"ratio"`
}

// Evidence is the structured explanation attached to a vector-based
// resolution. MatchedElements and FuzzyMatches are the authoritative
// signal for review tooling; Reason is presentation only.
type Evidence struct {
	MatchedElements []Match      `json:"matched_elements"`
	FuzzyMatches    []FuzzyMatch `json:"fuzzy_matches"`
	Confidence      float64      `json:"confidence"`
	Reason          string       `json:"reason"`
}

// MatchCount returns the total number of exact and fuzzy matches.
func (e Evidence) MatchCount() int {
	return len(e.MatchedElements) + len(e.FuzzyMatches)
}

// =============================================================================
// Explain
// =============================================================================

// Explain builds the evidence for a vector match.
//
// # Description
//
// Tokenizes the query text and each record field into normalized word
// sets, then:
//
//  1. Exact matches: query tokens appearing verbatim in the record, tagged
//     with the source field (first field in priority order wins).
//  2. Fuzzy matches: remaining query tokens paired with record tokens at
//     Levenshtein ratio >= 0.8; the best-scoring record token is reported.
//  3. Confidence: base is the raw vector similarity. With at least one
//     match, boosted by matchBoost per match and capped at boostCap; with
//     zero matches, capped at noMatchCap — a high vector score with no
//     lexical corroboration is explicitly distrusted.
//
// # Inputs
//
//   - queryText: The text that was embedded for the search.
//   - similarity: Raw cosine similarity of the match, in [0,1].
//   - record: The matched master record.
//
// # Outputs
//
//   - Evidence: Structured matches plus adjusted confidence and a
//     human-readable reason.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Explain(queryText string, similarity float64, record registry.ProjectRecord) Evidence {
	queryTokens := tokenize(queryText)
	fields := recordFields(record)

	// token → owning field, in field priority order.
	tokenField := make(map[string]string)
	for _, f := range fields {
		for _, tok := range tokenize(f.value) {
			if _, seen := tokenField[tok]; !seen {
				tokenField[tok] = f.name
			}
		}
	}

	var exact []Match
	var fuzzy []FuzzyMatch
	for _, qt := range queryTokens {
		if field, ok := tokenField[qt]; ok {
			exact = append(exact, Match{Token: qt, Field: field})
			continue
		}

		best := FuzzyMatch{Ratio: 0}
		for rt, field := range tokenField {
			r := similarityRatio(qt, rt)
			if r >= fuzzyMatchThreshold && (r > best.Ratio || (r == best.Ratio && rt < best.RecordToken)) {
				best = FuzzyMatch{QueryToken: qt, RecordToken: rt, Field: field, Ratio: r}
			}
		}
		if best.Ratio > 0 {
			fuzzy = append(fuzzy, best)
		}
	}

	confidence := adjustConfidence(similarity, len(exact)+len(fuzzy))

	return Evidence{
		MatchedElements: exact,
		FuzzyMatches:    fuzzy,
		Confidence:      confidence,
		Reason:          buildReason(exact, fuzzy, similarity),
	}
}

// adjustConfidence applies the boost/distrust rules to a raw similarity.
func adjustConfidence(similarity float64, matchCount int) float64 {
	conf := similarity
	if conf < 0 {
		conf = 0
	}
	if matchCount > 0 {
		conf += matchBoost * float64(matchCount)
		if conf > boostCap {
			conf = boostCap
		}
	} else if conf > noMatchCap {
		conf = noMatchCap
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// buildReason summarizes the matched fields for human review.
func buildReason(exact []Match, fuzzy []FuzzyMatch, similarity float64) string {
	if len(exact) == 0 && len(fuzzy) == 0 {
		return fmt.Sprintf("vector similarity %.2f with no lexical overlap; confidence capped for review", similarity)
	}

	fieldSet := make(map[string]bool)
	for _, m := range exact {
		fieldSet[m.Field] = true
	}
	for _, m := range fuzzy {
		fieldSet[m.Field] = true
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	return fmt.Sprintf("matched fields: %s (%d exact, %d fuzzy); vector similarity %.2f",
		strings.Join(fields, ", "), len(exact), len(fuzzy), similarity)
}

// =============================================================================
// Record Fields
// =============================================================================

// recordField pairs a field name with its value for match tagging.
type recordField struct {
	name  string
	value string
}

// recordFields lists the record's fields in match-priority order. A token
// present in several fields is attributed to the earliest.
func recordFields(r registry.ProjectRecord) []recordField {
	return []recordField{
		{"station_name", r.StationName},
		{"station_number", r.StationNumber},
		{"location", r.Location},
		{"plan_name", r.PlanName},
		{"responsible_person", r.ResponsiblePerson},
		{"project_name", r.ProjectName},
		{"current_phase", r.CurrentPhase},
	}
}

// =============================================================================
// Tokenization
// =============================================================================

// tokenize splits text into normalized word tokens: maximal runs of
// letters and digits, lowercased, deduplicated, first-appearance order.
// Works on runes so CJK text tokenizes correctly.
func tokenize(text string) []string {
	var tokens []string
	seen := make(map[string]bool)
	var current []rune

	flush := func() {
		if len(current) == 0 {
			return
		}
		tok := strings.ToLower(string(current))
		current = current[:0]
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current = append(current, r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// similarityRatio is a Levenshtein-based similarity in [0,1]:
// 1 - distance/maxLen, computed over runes.
func similarityRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(ra, rb))/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two rune slices
// using two rows instead of the full matrix.
func levenshteinDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
