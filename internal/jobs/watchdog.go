package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
)

// WatchdogConfig controls the stale-job sweeper.
type WatchdogConfig struct {
	// Interval is the sweep cadence. Default: 1m.
	Interval time.Duration
	// StallAfter is how long a claimed job may go without a status or
	// progress write before it is presumed abandoned. Default: 10m.
	StallAfter time.Duration
	// Metrics receives sweep observations. Nil records nothing.
	Metrics *metrics.Metrics
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.StallAfter <= 0 {
		c.StallAfter = 10 * time.Minute
	}
	return c
}

// Watchdog fails jobs whose worker stopped making progress. A claimed
// job whose worker crashed would otherwise sit in classifying or
// generating forever, invisible to both the queue and the caller.
type Watchdog struct {
	store  store.Store
	events events.Notifier
	cfg    WatchdogConfig
}

// NewWatchdog creates a Watchdog. A nil notifier disables events.
func NewWatchdog(st store.Store, notifier events.Notifier, cfg WatchdogConfig) *Watchdog {
	if notifier == nil {
		notifier = events.Nop{}
	}
	return &Watchdog{store: st, events: notifier, cfg: cfg.withDefaults()}
}

// Run starts the periodic sweep loop. It blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "jobs.watchdog"))
	log.Info("starting stale-job watchdog",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("stall_after", w.cfg.StallAfter),
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stale-job watchdog stopped")
			return
		case <-ticker.C:
			w.sweep(ctx, log)
		}
	}
}

// sweep fails every claimed job with no writes since the stall cutoff.
// The compare-and-swap keeps it honest: a job that advanced between the
// listing and the kill is left alone.
func (w *Watchdog) sweep(ctx context.Context, log *zap.Logger) int {
	cutoff := time.Now().Add(-w.cfg.StallAfter)
	stale, err := w.store.StaleJobs(ctx, cutoff)
	if err != nil {
		log.Error("jobs: stale sweep failed", zap.Error(err))
		return 0
	}

	swept := 0
	for _, job := range stale {
		rec := store.FailureRecord{
			LastError:  fmt.Sprintf("no progress since %s, worker presumed dead", job.UpdatedAt.UTC().Format(time.RFC3339)),
			ErrorClass: model.ErrorClassStalled,
			RetryCount: job.RetryCount,
			Usage:      job.Usage,
		}
		if err := w.store.FailJob(ctx, job.ID, job.Status, rec); err != nil {
			if errors.Is(err, store.ErrStale) {
				log.Debug("jobs: stale job advanced before the sweep", zap.String("job_id", job.ID))
			} else {
				log.Warn("jobs: failed to sweep stale job", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}

		swept++
		w.cfg.Metrics.JobSwept()
		log.Warn("jobs: swept stale job",
			zap.String("job_id", job.ID),
			zap.String("was", string(job.Status)),
			zap.Time("last_update", job.UpdatedAt),
		)
		w.events.Publish(events.JobEvent(model.EventJobFailed, job.ID, map[string]any{
			"error_class": model.ErrorClassStalled,
			"error":       rec.LastError,
			"retry_count": rec.RetryCount,
		}))
	}

	if swept > 0 {
		log.Info("jobs: stale sweep complete", zap.Int("swept", swept))
	}
	return swept
}
