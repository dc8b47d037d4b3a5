package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
)

// classifyAttempts is the validation budget for classification. Attempts
// beyond it fail the job; transport retries do not count against it.
const classifyAttempts = 3

// splitApplicabilityFloor marks an undeclared tie. When the strongest
// alternate scores at or above it the decision is treated as split even
// if the oracle did not flag one, so a coin-flip never hides behind a
// single confident-looking label.
const splitApplicabilityFloor = 0.85

// Classify maps the job's research text onto the archetype taxonomy.
// Output that fails validation is retried with the errors folded into the
// next prompt, up to classifyAttempts total attempts. Before each retry
// the job row is re-read; a job that left classifying (canceled or swept)
// gets no further oracle calls.
func (p *Pipeline) Classify(ctx context.Context, job *model.Job, usage *model.TokenUsage) (*model.Classification, error) {
	state := attemptState{attempt: 1}
	for {
		raw, err := p.invoke(ctx, "classify", usage, p.classifySystem, classifyPrompt(state, job.InputText))
		if err != nil {
			return nil, err
		}

		c, res := p.validator.Classification(raw)
		if res.Valid {
			c.Attempts = state.attempt
			p.normalizeClassification(c)
			return c, nil
		}

		zap.L().Warn("pipeline: classification attempt rejected",
			zap.Int("attempt", state.attempt),
			zap.Strings("errors", res.ErrorStrings()),
		)
		if state.attempt >= classifyAttempts {
			return nil, &ClassificationError{Attempts: state.attempt, Issues: res.Errors}
		}
		state = attemptState{attempt: state.attempt + 1, lastErrors: res.Errors}
		if !p.stillOwned(ctx, job.ID, model.JobStatusClassifying) {
			return nil, eris.Wrap(context.Canceled, "pipeline: job left classifying between attempts")
		}
	}
}

// normalizeClassification canonicalizes the archetype name from the live
// taxonomy and applies the tie policy: a near-tied alternate promotes the
// result to a split decision, and a split decision caps confidence at
// medium because "high" and "it could equally be something else" cannot
// both be true.
func (p *Pipeline) normalizeClassification(c *model.Classification) {
	if a, ok := p.registry.Lookup(c.Archetype); ok {
		c.ArchetypeName = a.Name
	}

	if !c.SplitDecision && len(c.Alternates) > 0 && c.Alternates[0].Applicability >= splitApplicabilityFloor {
		c.SplitDecision = true
		zap.L().Info("pipeline: promoting near-tie to split decision",
			zap.String("archetype", c.Archetype),
			zap.String("alternate", c.Alternates[0].Archetype),
			zap.Float64("applicability", c.Alternates[0].Applicability),
		)
	}
	if c.SplitDecision && c.Confidence == model.ConfidenceHigh {
		c.Confidence = model.ConfidenceMedium
	}
}
