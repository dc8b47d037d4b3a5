package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/validate"
)

// GenerateResult carries a validated artifact plus the retry metadata the
// job row records. RetryCount is attempts minus one: a model accepted on
// the first try reports zero.
type GenerateResult struct {
	Model      *model.ValueModel
	Validation validate.Result
	RetryCount int
}

// Generate produces a value model for the job's already-classified
// research text. Invalid output is retried with the validation errors
// folded into the next prompt until cfg.MaxRetries attempts are spent.
// Transport failures surface as OracleError and never consume the
// validation budget; the retry layer inside invoke has already done its
// backoff by the time one escapes. Before each retry the job row is
// re-read, so a canceled job stops here instead of burning more attempts.
func (p *Pipeline) Generate(ctx context.Context, job *model.Job, c *model.Classification, usage *model.TokenUsage) (*GenerateResult, error) {
	a, ok := p.registry.Lookup(c.Archetype)
	if !ok {
		return nil, &ClassificationError{
			Attempts: c.Attempts,
			Issues: []validate.Issue{{
				Layer:   validate.LayerRules,
				Field:   "/archetype",
				Message: fmt.Sprintf("archetype %q is not part of the taxonomy", c.Archetype),
			}},
		}
	}

	state := attemptState{attempt: 1}
	for {
		raw, err := p.invoke(ctx, "generate", usage, p.generateSystem, generatePrompt(state, a, job.InputText))
		if err != nil {
			return nil, &OracleError{Attempt: state.attempt, Err: err}
		}

		m, res := p.validator.Model(raw, c.Archetype)
		if res.Valid {
			if len(res.Warnings) > 0 {
				zap.L().Info("pipeline: accepted model carries plausibility warnings",
					zap.Int("attempt", state.attempt),
					zap.Strings("warnings", res.WarningStrings()),
				)
			}
			return &GenerateResult{Model: m, Validation: res, RetryCount: state.attempt - 1}, nil
		}

		zap.L().Warn("pipeline: generation attempt rejected",
			zap.Int("attempt", state.attempt),
			zap.String("archetype", c.Archetype),
			zap.Strings("errors", res.ErrorStrings()),
		)
		if state.attempt >= p.cfg.MaxRetries {
			return nil, &TerminalValidationError{Attempts: state.attempt, Issues: res.Errors}
		}
		state = attemptState{attempt: state.attempt + 1, lastErrors: res.Errors}
		if !p.stillOwned(ctx, job.ID, model.JobStatusGenerating) {
			return nil, eris.Wrap(context.Canceled, "pipeline: job left generating between attempts")
		}
	}
}
