package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/modelgen/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrStale is returned when a compare-and-swap job transition loses:
	// another worker already moved the job past the expected status.
	ErrStale = eris.New("store: stale transition")
)

// JobFilter specifies criteria for listing jobs. Listings are newest
// first unless OldestFirst is set; the worker queue claims oldest first
// so early submissions are never starved.
type JobFilter struct {
	Status      model.JobStatus `json:"status,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
	OldestFirst bool            `json:"oldest_first,omitempty"`
}

// FailureRecord carries everything a terminal failure writes to a job row.
type FailureRecord struct {
	LastError  string
	ErrorClass string
	RetryCount int
	Usage      model.TokenUsage
}

// Store defines the persistence interface for jobs, generated models, and
// the lineage graph. Job mutations are compare-and-swap on the expected
// status so concurrent workers can never advance the same job twice.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, seed model.Job) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	TransitionJob(ctx context.Context, jobID string, from, to model.JobStatus) error
	SetJobClassification(ctx context.Context, jobID string, c *model.Classification) error
	SetJobArtifacts(ctx context.Context, jobID, extractionID, modelID string) error
	CompleteJob(ctx context.Context, jobID string, retryCount int, usage model.TokenUsage) error
	FailJob(ctx context.Context, jobID string, from model.JobStatus, rec FailureRecord) error
	StaleJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error)

	// Generated models
	CreateModel(ctx context.Context, seed model.ValueModel) (*model.ValueModel, error)
	GetModel(ctx context.Context, modelID string) (*model.ValueModel, error)

	// Extractions and lineage
	RecordExtraction(ctx context.Context, seed model.Extraction) (*model.Extraction, bool, error)
	GetExtraction(ctx context.Context, extractionID string) (*model.Extraction, error)
	ExtractionsByHash(ctx context.Context, contentHash string) ([]model.Extraction, error)
	LinkModel(ctx context.Context, extractionID, modelID string) error
	LinkDashboard(ctx context.Context, modelID, dashboardID string) error
	ExtractionLineage(ctx context.Context, extractionID string) (*model.ExtractionLineage, error)
	ImpactAnalysis(ctx context.Context, contentHash string) ([]model.ImpactRow, error)
	FlagExtraction(ctx context.Context, extractionID string, issues []string) error
	VerifyExtraction(ctx context.Context, extractionID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
