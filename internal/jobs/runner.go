package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/pipeline"
	"github.com/sells-group/modelgen/internal/store"
)

// RunnerConfig controls the worker pool.
type RunnerConfig struct {
	// Concurrency is the number of jobs processed in parallel. Default: 4.
	Concurrency int
	// PollInterval is the pending-queue poll cadence. Default: 3s.
	PollInterval time.Duration
	// ClaimBatch caps the jobs claimed per poll. Default: 2x Concurrency.
	ClaimBatch int
	// Metrics receives queue lag and outcome observations. Nil records
	// nothing.
	Metrics *metrics.Metrics
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.ClaimBatch <= 0 {
		c.ClaimBatch = 2 * c.Concurrency
	}
	return c
}

// Runner claims pending jobs and drives them through the pipeline. Any
// number of runners may share one store; the pending to classifying swap
// decides ownership of each job.
type Runner struct {
	store store.Store
	pipe  *pipeline.Pipeline
	cfg   RunnerConfig
}

// NewRunner creates a Runner.
func NewRunner(st store.Store, pipe *pipeline.Pipeline, cfg RunnerConfig) *Runner {
	return &Runner{store: st, pipe: pipe, cfg: cfg.withDefaults()}
}

// Run drains the pending queue once, then keeps polling until ctx is
// cancelled. Returns nil on a clean shutdown.
func (r *Runner) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "jobs.runner"))
	log.Info("starting job runner",
		zap.Int("concurrency", r.cfg.Concurrency),
		zap.Duration("poll_interval", r.cfg.PollInterval),
	)

	if _, err := r.drain(ctx, log); err != nil {
		log.Error("jobs: initial drain failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("job runner stopped")
			return nil
		case <-ticker.C:
			if _, err := r.drain(ctx, log); err != nil {
				log.Error("jobs: drain failed", zap.Error(err))
			}
		}
	}
}

// drain claims and runs every pending job visible right now, oldest
// first, bounded by the concurrency limit.
func (r *Runner) drain(ctx context.Context, log *zap.Logger) (int, error) {
	pending, err := r.store.ListJobs(ctx, store.JobFilter{
		Status:      model.JobStatusPending,
		Limit:       r.cfg.ClaimBatch,
		OldestFirst: true,
	})
	if err != nil {
		return 0, eris.Wrap(err, "jobs: list pending")
	}
	if len(pending) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	var completed, failed, lost atomic.Int64
	for _, job := range pending {
		g.Go(func() error {
			switch err := r.Process(gctx, job.ID); {
			case err == nil:
				completed.Add(1)
			case errors.Is(err, store.ErrStale):
				lost.Add(1)
			default:
				failed.Add(1)
			}
			return nil // failures land on the job row, not the batch
		})
	}
	if err := g.Wait(); err != nil {
		return 0, eris.Wrap(err, "jobs: drain")
	}

	processed := int(completed.Load() + failed.Load())
	log.Info("jobs: drain complete",
		zap.Int64("completed", completed.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("lost_claims", lost.Load()),
	)
	return processed, nil
}

// Process claims one pending job and runs it to a terminal status.
// Losing the claim returns store.ErrStale; a pipeline failure comes back
// as the cause already recorded on the job row.
func (r *Runner) Process(ctx context.Context, jobID string) error {
	start := time.Now()
	r.cfg.Metrics.JobStarted()
	err := r.process(ctx, jobID)
	r.cfg.Metrics.JobFinished(outcomeFor(err), time.Since(start))
	return err
}

func (r *Runner) process(ctx context.Context, jobID string) error {
	if err := r.store.TransitionJob(ctx, jobID, model.JobStatusPending, model.JobStatusClassifying); err != nil {
		return eris.Wrapf(err, "jobs: claim %s", jobID)
	}
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "jobs: load claimed job %s", jobID)
	}
	r.cfg.Metrics.ObserveQueueLag(time.Since(job.CreatedAt))
	return r.pipe.Execute(ctx, job)
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeCompleted
	case errors.Is(err, store.ErrStale):
		return metrics.OutcomeLostClaim
	default:
		return metrics.OutcomeFailed
	}
}
