// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report defines the resolved report entity that downstream
// consumers read: the document metadata, its analysis classification, and
// the embedded project resolution.
package report

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/FieldResolve/services/resolve/datatypes"
)

// ReportType classifies the source document.
type ReportType string

const (
	TypeConstructionReport   ReportType = "CONSTRUCTION_REPORT"
	TypeTroubleReport        ReportType = "TROUBLE_REPORT"
	TypeProgressUpdate       ReportType = "PROGRESS_UPDATE"
	TypeConstructionEstimate ReportType = "CONSTRUCTION_ESTIMATE"
	TypeNegotiationProgress  ReportType = "NEGOTIATION_PROGRESS"
	TypeStructuralDesign     ReportType = "STRUCTURAL_DESIGN"
	TypeOther                ReportType = "OTHER"
)

// StatusFlag is the objective site status at report time.
type StatusFlag string

const (
	StatusNormal     StatusFlag = "normal"
	StatusMinorDelay StatusFlag = "minor_delay"
	StatusMajorDelay StatusFlag = "major_delay"
	StatusStopped    StatusFlag = "stopped"
)

// RiskLevel values match the master-data export vocabulary.
type RiskLevel string

const (
	RiskLow    RiskLevel = "低"
	RiskMedium RiskLevel = "中"
	RiskHigh   RiskLevel = "高"
)

// ConstructionStatus values match the master-data export vocabulary.
type ConstructionStatus string

const (
	ConstructionNotStarted ConstructionStatus = "未着手"
	ConstructionInProgress ConstructionStatus = "進行中"
	ConstructionCompleted  ConstructionStatus = "完了"
	ConstructionSuspended  ConstructionStatus = "中断"
)

// AnalysisResult is the upstream analysis summary attached to an entity.
type AnalysisResult struct {
	Summary    string   `json:"summary"`
	Issues     []string `json:"issues,omitempty"`
	KeyPoints  []string `json:"key_points,omitempty"`
	Confidence float64  `json:"confidence"`
}

// DelayReason is one categorized delay cause extracted from the report.
type DelayReason struct {
	Category    string `json:"category"`
	Description string `json:"description"`
}

// =============================================================================
// Entity
// =============================================================================

// Entity is one fully processed report: document metadata, classification,
// and the project resolution with its evidence. This is the object the
// entity cache persists and the bulk loader reconstitutes for UI and
// analytics consumers.
type Entity struct {
	ID          string     `json:"id"`
	FilePath    string     `json:"file_path"`
	FileName    string     `json:"file_name"`
	ReportType  ReportType `json:"report_type"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt time.Time  `json:"processed_at"`

	// SourceHash is the content hash of the originating file. A cached
	// entity is never served when this no longer matches the current
	// source content.
	SourceHash string `json:"source_hash"`

	Resolution *datatypes.ResolutionResult `json:"resolution,omitempty"`

	Analysis           *AnalysisResult    `json:"analysis_result,omitempty"`
	StatusFlag         StatusFlag         `json:"status_flag,omitempty"`
	RiskLevel          RiskLevel          `json:"risk_level,omitempty"`
	ConstructionStatus ConstructionStatus `json:"construction_status,omitempty"`
	CurrentPhase       string             `json:"current_construction_phase,omitempty"`

	RequiresHumanReview bool          `json:"requires_human_review"`
	AnalysisConfidence  float64       `json:"analysis_confidence"`
	DelayReasons        []DelayReason `json:"delay_reasons,omitempty"`
	UrgencyScore        int           `json:"urgency_score"`
}

// New creates an Entity for a source document. The ID is a fresh UUID and
// SourceHash is computed from the content, so two entities built from
// identical content share a hash but never an ID.
func New(filePath, content string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		ID:           uuid.NewString(),
		FilePath:     filePath,
		FileName:     filepath.Base(filePath),
		ReportType:   TypeOther,
		Content:      content,
		CreatedAt:    now,
		ProcessedAt:  now,
		SourceHash:   ContentHash([]byte(content)),
		UrgencyScore: 1,
	}
}

// AttachResolution embeds a resolution result and mirrors its review flag.
func (e *Entity) AttachResolution(result datatypes.ResolutionResult) {
	e.Resolution = &result
	if result.NeedsReview() {
		e.RequiresHumanReview = true
	}
}

// ContentHash returns the hex SHA256 of data, the hash used for
// content-based cache invalidation throughout the service.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
