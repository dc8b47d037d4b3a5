package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/resilience"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/pkg/anthropic"
)

func testClassification() *model.Classification {
	return &model.Classification{
		Archetype:     "B3",
		ArchetypeName: "Productivity Gain",
		Confidence:    model.ConfidenceHigh,
		Reasoning:     "The text centers on analyst hours saved per week across the team.",
		Evidence:      "Saves each analyst six hours a week on manual report assembly.",
		Attempts:      1,
	}
}

func TestGenerate_AcceptsFirstValidAttempt(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		prompt := req.Messages[0].Content
		return strings.Contains(prompt, "Archetype: B3 (Productivity Gain)") &&
			strings.Contains(prompt, "Guidance:")
	})).Return(textResponse(validModelJSON), nil).Once()

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	res, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.NoError(t, err)

	assert.Equal(t, 0, res.RetryCount)
	assert.True(t, res.Validation.Valid)
	assert.Empty(t, res.Validation.Warnings)
	assert.Equal(t, "B3", res.Model.Archetype)
	assert.Len(t, res.Model.Components, 4)

	oracle.AssertExpectations(t)
}

func TestGenerate_MalformedThenValidCountsOneRetry(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("I could not produce JSON for this one, sorry."), nil).Once()
	oracle.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return strings.Contains(req.Messages[0].Content, "failed validation")
	})).Return(textResponse(validModelJSON), nil).Once()

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	res, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetryCount)
	oracle.AssertNumberOfCalls(t, "CreateMessage", 2)
	oracle.AssertExpectations(t)
}

func TestGenerate_ForwardReferenceIsRetriedWithBothIDs(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(forwardRefModelJSON), nil).Once()
	oracle.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		// The correction names both sides of the bad edge.
		prompt := req.Messages[0].Content
		return strings.Contains(prompt, `"annual_value"`) && strings.Contains(prompt, `"hours_saved"`)
	})).Return(textResponse(validModelJSON), nil).Once()

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	res, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.NoError(t, err)

	assert.Equal(t, 1, res.RetryCount)
	oracle.AssertExpectations(t)
}

func TestGenerate_ExhaustsValidationBudget(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(forwardRefModelJSON), nil).Times(3)

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	_, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.Error(t, err)

	var ve *TerminalValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 3, ve.Attempts)
	assert.NotEmpty(t, ve.Issues)
	// The terminal error carries the last attempt's issues verbatim.
	assert.Contains(t, err.Error(), "declared later")
	assert.Equal(t, 2, retryCountFor(err))

	oracle.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestGenerate_PlausibilityWarningsDoNotBlock(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(noCalculationModelJSON), nil).Once()

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	res, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.NoError(t, err)

	assert.Equal(t, 0, res.RetryCount)
	assert.True(t, res.Validation.Valid)
	require.NotEmpty(t, res.Validation.Warnings)
	assert.Contains(t, res.Validation.WarningStrings()[0], "never calculates")

	// One call: warnings never trigger a retry.
	oracle.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestGenerate_TransportFailureCarriesAttempt(t *testing.T) {
	oracle := &mockAnthropicClient{}
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(forwardRefModelJSON), nil).Once()
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(eris.New("upstream overloaded"), 529)).Once()

	p, _, _ := newTestPipeline(t, oracle, testConfig())

	var usage model.TokenUsage
	_, err := p.Generate(context.Background(), unsavedJob("Saves six hours a week."), testClassification(), &usage)
	require.Error(t, err)

	var oe *OracleError
	require.ErrorAs(t, err, &oe)
	// The validation retry consumed by attempt one is still reported.
	assert.Equal(t, 2, oe.Attempt)
	assert.Equal(t, 1, retryCountFor(err))
}

func TestGenerate_CanceledJobGetsNoFurtherAttempts(t *testing.T) {
	ctx := context.Background()
	oracle := &mockAnthropicClient{}
	p, st, _ := newTestPipeline(t, oracle, testConfig())

	job, err := st.CreateJob(ctx, model.Job{InputText: "Saves six hours a week."})
	require.NoError(t, err)
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusPending, model.JobStatusClassifying))
	require.NoError(t, st.TransitionJob(ctx, job.ID, model.JobStatusClassifying, model.JobStatusGenerating))

	// Invalid output would normally earn a retry, but the job is canceled
	// while the first call is in flight.
	oracle.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			rec := store.FailureRecord{LastError: "canceled by operator", ErrorClass: model.ErrorClassCanceled}
			require.NoError(t, st.FailJob(ctx, job.ID, model.JobStatusGenerating, rec))
		}).
		Return(textResponse(forwardRefModelJSON), nil).Once()

	var usage model.TokenUsage
	_, err = p.Generate(ctx, job, testClassification(), &usage)
	require.ErrorIs(t, err, context.Canceled)

	oracle.AssertNumberOfCalls(t, "CreateMessage", 1)
}
