package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// VerificationStatus represents the audit state of an extraction.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFlagged    VerificationStatus = "flagged"
)

// Extraction is one unit of research text pulled from a source document.
// Rows are never deleted; superseded extractions are marked instead.
type Extraction struct {
	ID                string             `json:"id"`
	SourceURI         string             `json:"source_uri"`
	ContentHash       string             `json:"content_hash"`
	AgentID           string             `json:"agent_id"`
	Status            VerificationStatus `json:"status"`
	Issues            []string           `json:"issues,omitempty"`
	InitialConfidence float64            `json:"initial_confidence"`
	FinalConfidence   float64            `json:"final_confidence"`
	Superseded        bool               `json:"superseded,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// HashContent returns the canonical content hash used for extraction dedup.
func HashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// LineageLinks holds the two used-in sets recorded for one extraction.
// Both sets grow monotonically and contain no duplicates.
type LineageLinks struct {
	UsedInModels     []string `json:"used_in_models"`
	UsedInDashboards []string `json:"used_in_dashboards"`
}

// ExtractionLineage is an extraction joined with its recorded links.
type ExtractionLineage struct {
	Extraction Extraction   `json:"extraction"`
	Links      LineageLinks `json:"links"`
}

// ImpactRow is one path from a source extraction through a generated model
// to a dashboard consuming it. DashboardID is empty when the model has no
// downstream consumer yet.
type ImpactRow struct {
	ExtractionID string `json:"extraction_id"`
	ModelID      string `json:"model_id"`
	DashboardID  string `json:"dashboard_id,omitempty"`
}
