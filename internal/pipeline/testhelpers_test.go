package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/resilience"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
	"github.com/sells-group/modelgen/internal/validate"
)

// fastRetry keeps transport backoff inside test budgets.
func fastRetry(maxAttempts int) *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func testConfig() Config {
	return Config{
		Model:          "claude-sonnet-4-5-20250929",
		MaxTokens:      2048,
		MaxRetries:     3,
		AgentID:        "pipeline-test",
		TransportRetry: fastRetry(1),
	}
}

// unsavedJob wraps raw text in a job that exists only in memory. The
// phase loops skip the ownership re-check for jobs with no id.
func unsavedJob(text string) *model.Job {
	return &model.Job{InputText: text}
}

func newTestValidator(t *testing.T) (*taxonomy.Registry, *validate.Validator) {
	t.Helper()
	reg := taxonomy.Default()
	v, err := validate.New(reg)
	require.NoError(t, err)
	return reg, v
}

// newTestPipeline wires a pipeline over a throwaway SQLite store and a
// recording notifier.
func newTestPipeline(t *testing.T, oracle *mockAnthropicClient, cfg Config) (*Pipeline, store.Store, *recordingNotifier) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	notifier := &recordingNotifier{}
	reg, v := newTestValidator(t)
	p := New(cfg, oracle, v, reg, st, lineage.NewService(st), notifier)
	return p, st, notifier
}

// Oracle output fixtures. These mirror what a well-behaved model returns
// for the prompt contracts in prompts.go.

const validClassificationJSON = `{
  "archetype": "B3",
  "archetype_name": "Productivity Gain",
  "confidence": "high",
  "alternates": [{"archetype": "B1", "applicability": 0.4}],
  "reasoning": "The text centers on analyst hours saved per week and capacity redeployed to higher value work.",
  "evidence": "Saves each analyst six hours a week on manual report assembly.",
  "split_decision": false
}`

const tiedClassificationJSON = `{
  "archetype": "B3",
  "archetype_name": "Productivity Gain",
  "confidence": "high",
  "alternates": [{"archetype": "B1", "applicability": 0.9}],
  "reasoning": "Time savings and direct cost displacement are described with equal weight in the text.",
  "evidence": "Cuts six analyst hours a week and eliminates the reporting vendor fee.",
  "split_decision": false
}`

// repeatedAlternateClassificationJSON passes the schema but fails the
// rules layer: the alternate repeats the chosen archetype.
const repeatedAlternateClassificationJSON = `{
  "archetype": "B3",
  "archetype_name": "Productivity Gain",
  "confidence": "medium",
  "alternates": [{"archetype": "B3", "applicability": 0.8}],
  "reasoning": "The text centers on analyst hours saved per week across the team.",
  "evidence": "Saves each analyst six hours a week on manual report assembly.",
  "split_decision": false
}`

const validModelJSON = `{
  "archetype": "B3",
  "title": "Analyst Time Savings",
  "summary": "Annualized value of analyst hours returned by automated report assembly.",
  "components": [
    {"id": "hours_saved_per_week", "kind": "variable", "name": "Hours saved per analyst per week", "unit": "hours", "value": 6},
    {"id": "analyst_count", "kind": "variable", "name": "Analysts affected", "unit": "people", "value": 40},
    {"id": "loaded_rate", "kind": "variable", "name": "Loaded hourly rate", "unit": "USD", "value": 95},
    {"id": "annual_capacity_value", "kind": "calculation", "name": "Annual capacity value", "formula": "hours_saved_per_week * analyst_count * loaded_rate * 48", "inputs": ["hours_saved_per_week", "analyst_count", "loaded_rate"]}
  ]
}`

// noCalculationModelJSON passes the hard gates but draws a plausibility
// warning for never calculating a benefit.
const noCalculationModelJSON = `{
  "archetype": "B3",
  "title": "Analyst Time Savings",
  "summary": "Hours saved without an annualized benefit calculation.",
  "components": [
    {"id": "hours_saved_per_week", "kind": "variable", "name": "Hours saved per analyst per week", "unit": "hours", "value": 6}
  ]
}`

// forwardRefModelJSON fails the rules layer: the calculation reads a
// component declared after it.
const forwardRefModelJSON = `{
  "archetype": "B3",
  "title": "Analyst Time Savings",
  "summary": "Calculation declared before the variable it reads.",
  "components": [
    {"id": "annual_value", "kind": "calculation", "name": "Annual value", "formula": "hours_saved * 48", "inputs": ["hours_saved"]},
    {"id": "hours_saved", "kind": "variable", "name": "Hours saved", "unit": "hours", "value": 6}
  ]
}`
