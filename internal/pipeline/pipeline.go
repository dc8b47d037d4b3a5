// Package pipeline orchestrates the classify, generate, validate loop for
// one job: research text goes in, a validated value model with recorded
// lineage comes out. Validation retries re-prompt the oracle with the
// previous attempt's errors; transport retries back off underneath the
// validation budget and never consume it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/cost"
	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/resilience"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
	"github.com/sells-group/modelgen/internal/validate"
	"github.com/sells-group/modelgen/pkg/anthropic"
)

// Confidence scores persisted on extractions, keyed by the classifier's
// self-reported bucket. Each plausibility warning on the accepted model
// shaves warningPenalty off, floored at confidenceFloor.
const (
	scoreLow        = 0.5
	scoreMedium     = 0.65
	scoreHigh       = 0.8
	warningPenalty  = 0.05
	confidenceFloor = 0.1
)

// Config controls one pipeline instance.
type Config struct {
	// Model is the oracle model id used for both phases.
	Model string
	// MaxTokens bounds each oracle response.
	MaxTokens int64
	// MaxRetries is the total validation attempts per generation, including
	// the first. Default: 3.
	MaxRetries int
	// AgentID is recorded on extractions this pipeline produces.
	AgentID string
	// TransportRetry overrides the oracle transport retry policy. Nil means
	// resilience.OracleRetryConfig.
	TransportRetry *resilience.RetryConfig
	// Metrics receives oracle and attempt observations. Nil records nothing.
	Metrics *metrics.Metrics
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5-20250929"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.AgentID == "" {
		c.AgentID = "modelgen-pipeline"
	}
	return c
}

// Pipeline runs jobs end to end against one oracle, one store, and one
// taxonomy. It is safe for concurrent use; per-job state lives on the
// stack of Execute.
type Pipeline struct {
	cfg            Config
	oracle         anthropic.Client
	validator      *validate.Validator
	registry       *taxonomy.Registry
	store          store.Store
	lineage        *lineage.Service
	events         events.Notifier
	metrics        *metrics.Metrics
	breaker        *resilience.CircuitBreaker
	costCalc       *cost.Calculator
	transportRetry resilience.RetryConfig
	classifySystem []anthropic.SystemBlock
	generateSystem []anthropic.SystemBlock
}

// New creates a Pipeline with all dependencies. The system prompts are
// built once with a cache breakpoint so retry attempts within a job hit
// the prompt cache instead of re-paying for the taxonomy text.
func New(
	cfg Config,
	oracle anthropic.Client,
	validator *validate.Validator,
	reg *taxonomy.Registry,
	st store.Store,
	lin *lineage.Service,
	notifier events.Notifier,
) *Pipeline {
	cfg = cfg.withDefaults()
	if notifier == nil {
		notifier = events.Nop{}
	}

	transportRetry := resilience.OracleRetryConfig()
	if cfg.TransportRetry != nil {
		transportRetry = *cfg.TransportRetry
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("pipeline: oracle circuit breaker state change",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}

	return &Pipeline{
		cfg:            cfg,
		oracle:         oracle,
		validator:      validator,
		registry:       reg,
		store:          st,
		lineage:        lin,
		events:         notifier,
		metrics:        cfg.Metrics,
		breaker:        resilience.NewCircuitBreaker(breakerCfg),
		costCalc:       cost.NewCalculator(cost.DefaultRates()),
		transportRetry: transportRetry,
		classifySystem: anthropic.BuildCachedSystemBlocks(fmt.Sprintf(classifySystemTemplate, reg.PromptBlock())),
		generateSystem: anthropic.BuildCachedSystemBlocks(generateSystemPrompt),
	}
}

// invoke makes one oracle call through the circuit breaker and the
// transport retry policy, then accrues token usage and cost. The string
// returned is the concatenated text content, unparsed. Every wire
// attempt is counted against phase, transport retries included.
func (p *Pipeline) invoke(ctx context.Context, phase string, usage *model.TokenUsage, system []anthropic.SystemBlock, prompt string) (string, error) {
	retryCfg := p.transportRetry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("anthropic", "create message")
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			start := time.Now()
			resp, err := p.oracle.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     p.cfg.Model,
				MaxTokens: p.cfg.MaxTokens,
				System:    system,
				Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
			})
			p.metrics.OracleCall(phase, time.Since(start), err)
			return resp, err
		})
	})
	if err != nil {
		return "", err
	}

	attempt := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
	}
	attempt.Cost = p.costCalc.Claude(p.cfg.Model,
		attempt.InputTokens, attempt.OutputTokens,
		attempt.CacheCreationTokens, attempt.CacheReadTokens,
	)
	usage.Add(attempt)
	p.metrics.AddTokenUsage(attempt.InputTokens, attempt.OutputTokens)

	return extractText(resp), nil
}

// stillOwned reports whether the job still sits in the status this worker
// claimed. Jobs that were never persisted (an empty id) are always owned.
// A failed read also counts as owned: cancellation is best effort, and the
// next compare-and-swap settles ownership regardless.
func (p *Pipeline) stillOwned(ctx context.Context, jobID string, status model.JobStatus) bool {
	if jobID == "" {
		return true
	}
	cur, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return true
	}
	return cur.Status == status
}

// classificationFor resolves the job's classification: an operator
// override skips the oracle entirely and reports zero attempts, otherwise
// the classifier runs.
func (p *Pipeline) classificationFor(ctx context.Context, job *model.Job, usage *model.TokenUsage) (*model.Classification, error) {
	if job.ArchetypeOverride == "" {
		return p.Classify(ctx, job, usage)
	}

	a, ok := p.registry.Lookup(job.ArchetypeOverride)
	if !ok {
		return nil, &ClassificationError{
			Issues: []validate.Issue{{
				Layer:   validate.LayerRules,
				Field:   "/archetype",
				Message: fmt.Sprintf("override archetype %q is not part of the taxonomy", job.ArchetypeOverride),
			}},
		}
	}
	return &model.Classification{
		Archetype:     a.Code,
		ArchetypeName: a.Name,
		Confidence:    model.ConfidenceHigh,
		Reasoning:     "Archetype was fixed by the caller at submission; classification was skipped.",
		Evidence:      "Operator-supplied override on the job request.",
	}, nil
}

// Execute runs one job from the claimed classifying state to a terminal
// status. The caller has already won the pending to classifying swap; if
// any later swap reports the job moved underneath us, another actor
// (cancellation, the stale-job sweeper) owns it now and Execute backs out
// without touching it further.
func (p *Pipeline) Execute(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID))
	log.Info("pipeline: job started", zap.String("source_uri", job.SourceURI))
	p.events.Publish(events.JobEvent(model.EventJobStarted, job.ID, map[string]any{
		"source_uri": job.SourceURI,
	}))

	var usage model.TokenUsage

	c, err := p.classificationFor(ctx, job, &usage)
	if err != nil {
		return p.fail(ctx, log, job, model.JobStatusClassifying, err, usage)
	}
	log.Info("pipeline: classified",
		zap.String("archetype", c.Archetype),
		zap.String("confidence", string(c.Confidence)),
		zap.Int("attempts", c.Attempts),
		zap.Bool("split_decision", c.SplitDecision),
	)
	p.metrics.ObserveAttempts("classify", c.Attempts)

	if err := p.store.SetJobClassification(ctx, job.ID, c); err != nil {
		log.Warn("pipeline: failed to persist classification", zap.Error(err))
	}

	if err := p.store.TransitionJob(ctx, job.ID, model.JobStatusClassifying, model.JobStatusGenerating); err != nil {
		if errors.Is(err, store.ErrStale) {
			log.Info("pipeline: job left classifying underneath us, backing out")
			return nil
		}
		return p.fail(ctx, log, job, model.JobStatusClassifying, err, usage)
	}

	gen, err := p.Generate(ctx, job, c, &usage)
	if err != nil {
		return p.fail(ctx, log, job, model.JobStatusGenerating, err, usage)
	}
	p.metrics.ObserveAttempts("generate", gen.RetryCount+1)

	created, err := p.store.CreateModel(ctx, *gen.Model)
	if err != nil {
		wrapped := &LineageError{Err: eris.Wrap(err, "pipeline: persist model")}
		return p.fail(ctx, log, job, model.JobStatusGenerating, wrapped, usage)
	}

	initial := confidenceScore(c.Confidence)
	final := initial - warningPenalty*float64(len(gen.Validation.Warnings))
	if final < confidenceFloor {
		final = confidenceFloor
	}

	ext, err := p.lineage.RecordExtraction(ctx, lineage.ExtractionInput{
		SourceURI:         job.SourceURI,
		Content:           job.InputText,
		AgentID:           p.cfg.AgentID,
		InitialConfidence: initial,
		FinalConfidence:   final,
	})
	if err != nil {
		p.preserveArtifacts(ctx, log, job.ID, "", created.ID)
		return p.fail(ctx, log, job, model.JobStatusGenerating, &LineageError{Err: err}, usage)
	}

	if err := p.lineage.LinkModel(ctx, ext.ID, created.ID); err != nil {
		p.preserveArtifacts(ctx, log, job.ID, ext.ID, created.ID)
		return p.fail(ctx, log, job, model.JobStatusGenerating, &LineageError{Err: err}, usage)
	}

	if err := p.store.SetJobArtifacts(ctx, job.ID, ext.ID, created.ID); err != nil {
		wrapped := &LineageError{Err: eris.Wrap(err, "pipeline: persist job artifacts")}
		return p.fail(ctx, log, job, model.JobStatusGenerating, wrapped, usage)
	}

	if err := p.store.CompleteJob(ctx, job.ID, gen.RetryCount, usage); err != nil {
		if errors.Is(err, store.ErrStale) {
			log.Info("pipeline: job was canceled before completion landed; artifacts remain recorded")
			return nil
		}
		wrapped := &LineageError{Err: eris.Wrap(err, "pipeline: complete job")}
		return p.fail(ctx, log, job, model.JobStatusGenerating, wrapped, usage)
	}

	log.Info("pipeline: job completed",
		zap.String("archetype", c.Archetype),
		zap.String("model_id", created.ID),
		zap.String("extraction_id", ext.ID),
		zap.Int("retry_count", gen.RetryCount),
		zap.Int("input_tokens", usage.InputTokens),
		zap.Int("output_tokens", usage.OutputTokens),
		zap.Float64("cost_usd", usage.Cost),
	)
	p.events.Publish(events.JobEvent(model.EventJobCompleted, job.ID, map[string]any{
		"archetype":     c.Archetype,
		"model_id":      created.ID,
		"extraction_id": ext.ID,
		"retry_count":   gen.RetryCount,
	}))
	return nil
}

// preserveArtifacts records whatever ids exist on the job row before a
// lineage failure takes it to failed. The generated model is already
// durable; losing the pointer to it would waste the spend.
func (p *Pipeline) preserveArtifacts(ctx context.Context, log *zap.Logger, jobID, extractionID, modelID string) {
	if err := p.store.SetJobArtifacts(context.WithoutCancel(ctx), jobID, extractionID, modelID); err != nil {
		log.Warn("pipeline: failed to preserve artifacts on failing job", zap.Error(err))
	}
}

// fail takes the job to failed with the error class, retry count, and the
// last error rendered verbatim. The terminal write runs detached from the
// caller's cancellation so a canceled job still lands in a terminal state.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, job *model.Job, from model.JobStatus, cause error, usage model.TokenUsage) error {
	class := failureClass(cause)
	retries := retryCountFor(cause)
	log.Error("pipeline: job failed",
		zap.String("class", class),
		zap.Int("retry_count", retries),
		zap.Error(cause),
	)

	writeCtx := context.WithoutCancel(ctx)
	rec := store.FailureRecord{
		LastError:  cause.Error(),
		ErrorClass: class,
		RetryCount: retries,
		Usage:      usage,
	}
	if err := p.store.FailJob(writeCtx, job.ID, from, rec); err != nil {
		if errors.Is(err, store.ErrStale) {
			log.Info("pipeline: job already moved past failure point")
		} else {
			log.Warn("pipeline: failed to persist job failure", zap.Error(err))
		}
	}

	p.events.Publish(events.JobEvent(model.EventJobFailed, job.ID, map[string]any{
		"error_class": class,
		"error":       cause.Error(),
		"retry_count": retries,
	}))
	return cause
}

func confidenceScore(level model.ConfidenceLevel) float64 {
	switch level {
	case model.ConfidenceHigh:
		return scoreHigh
	case model.ConfidenceMedium:
		return scoreMedium
	default:
		return scoreLow
	}
}
