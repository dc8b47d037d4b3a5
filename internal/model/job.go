package model

import "time"

// JobStatus represents the current state of a generation job.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusClassifying JobStatus = "classifying"
	JobStatusGenerating  JobStatus = "generating"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Error classes recorded on failed jobs. The class names the layer that
// produced the failure so the status endpoint never collapses into a
// generic "failed" with no detail.
const (
	ErrorClassTransport      = "transport"
	ErrorClassTransportAuth  = "transport/auth"
	ErrorClassClassification = "classification"
	ErrorClassValidation     = "validation"
	ErrorClassLineage        = "lineage"
	ErrorClassCanceled       = "canceled"
	ErrorClassStalled        = "stalled"
)

// Job tracks one classify-generate-validate run. A job is mutated only by
// the worker that owns it; every transition goes through a compare-and-swap
// on the previous status.
type Job struct {
	ID                string          `json:"id"`
	InputText         string          `json:"input_text"`
	SourceURI         string          `json:"source_uri,omitempty"`
	ArchetypeOverride string          `json:"archetype_override,omitempty"`
	Status            JobStatus       `json:"status"`
	RetryCount        int             `json:"retry_count"`
	LastError         string          `json:"last_error,omitempty"`
	ErrorClass        string          `json:"error_class,omitempty"`
	Classification    *Classification `json:"classification,omitempty"`
	ExtractionID      string          `json:"extraction_id,omitempty"`
	ModelID           string          `json:"model_id,omitempty"`
	Usage             TokenUsage      `json:"usage"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// JobView is a job joined with the artifact it produced, as returned by
// the status endpoint.
type JobView struct {
	Job
	Model *ValueModel `json:"model,omitempty"`
}

