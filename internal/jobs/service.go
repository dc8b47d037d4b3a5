// Package jobs owns the job lifecycle around the pipeline: submission,
// status, cancellation, the worker pool that claims pending jobs, and the
// watchdog that fails jobs whose worker died. Every status change is a
// compare-and-swap in the store, so concurrent workers, cancels, and
// sweeps never advance the same job twice.
package jobs

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
)

var (
	// ErrEmptyInput rejects submissions with no research text.
	ErrEmptyInput = eris.New("jobs: input text is empty")
	// ErrUnknownArchetype rejects an override outside the taxonomy.
	ErrUnknownArchetype = eris.New("jobs: unknown archetype override")
	// ErrUnknownStatus rejects a list filter naming no defined status.
	ErrUnknownStatus = eris.New("jobs: unknown status")
	// ErrTerminal reports a cancel against a job that already finished.
	ErrTerminal = eris.New("jobs: job already terminal")
)

// Service is the job API surface: submit, inspect, list, cancel. All
// state lives in the store; the service is safe for concurrent use.
type Service struct {
	store    store.Store
	registry *taxonomy.Registry
	events   events.Notifier
}

// NewService creates a Service. A nil notifier disables events.
func NewService(st store.Store, reg *taxonomy.Registry, notifier events.Notifier) *Service {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &Service{store: st, registry: reg, events: notifier}
}

// SubmitRequest carries one job submission.
type SubmitRequest struct {
	InputText         string `json:"input_text"`
	SourceURI         string `json:"source_uri,omitempty"`
	ArchetypeOverride string `json:"archetype_override,omitempty"`
}

// Submit validates the request and enqueues a pending job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	if strings.TrimSpace(req.InputText) == "" {
		return nil, ErrEmptyInput
	}
	if req.ArchetypeOverride != "" && !s.registry.Contains(req.ArchetypeOverride) {
		return nil, eris.Wrapf(ErrUnknownArchetype, "%q", req.ArchetypeOverride)
	}

	job, err := s.store.CreateJob(ctx, model.Job{
		InputText:         req.InputText,
		SourceURI:         req.SourceURI,
		ArchetypeOverride: req.ArchetypeOverride,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("jobs: submitted",
		zap.String("job_id", job.ID),
		zap.String("source_uri", job.SourceURI),
		zap.String("archetype_override", job.ArchetypeOverride),
	)
	return job, nil
}

// Status returns the job joined with the model it produced, when one
// exists. A dangling model reference degrades to the bare job rather
// than failing the lookup.
func (s *Service) Status(ctx context.Context, jobID string) (*model.JobView, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := &model.JobView{Job: *job}
	if job.ModelID != "" {
		m, err := s.store.GetModel(ctx, job.ModelID)
		if err != nil {
			zap.L().Warn("jobs: job references a missing model",
				zap.String("job_id", job.ID),
				zap.String("model_id", job.ModelID),
				zap.Error(err),
			)
		} else {
			view.Model = m
		}
	}
	return view, nil
}

// List returns jobs matching the filter.
func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]model.Job, error) {
	if filter.Status != "" && !KnownStatus(filter.Status) {
		return nil, eris.Wrapf(ErrUnknownStatus, "%q", filter.Status)
	}
	return s.store.ListJobs(ctx, filter)
}

// Cancel takes a non-terminal job to failed with the canceled class.
// Best effort: an in-flight oracle call is not interrupted, but the
// owning worker abandons the job at its next ownership check or swap.
// A lost swap here means a worker advanced the job first; the loop
// re-reads and retries from the new status, and the status chain is
// short enough that at most three lost races end at a terminal state.
func (s *Service) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	for {
		job, err := s.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(job.Status, model.JobStatusFailed) {
			return job, eris.Wrapf(ErrTerminal, "job %s is %s", jobID, job.Status)
		}

		rec := store.FailureRecord{
			LastError:  "canceled by operator",
			ErrorClass: model.ErrorClassCanceled,
			RetryCount: job.RetryCount,
			Usage:      job.Usage,
		}
		err = s.store.FailJob(ctx, jobID, job.Status, rec)
		if err == nil {
			zap.L().Info("jobs: canceled",
				zap.String("job_id", jobID),
				zap.String("was", string(job.Status)),
			)
			s.events.Publish(events.JobEvent(model.EventJobFailed, jobID, map[string]any{
				"error_class": model.ErrorClassCanceled,
				"error":       rec.LastError,
				"retry_count": rec.RetryCount,
			}))
			return s.store.GetJob(ctx, jobID)
		}
		if !errors.Is(err, store.ErrStale) {
			return nil, err
		}
	}
}
