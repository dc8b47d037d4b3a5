package jobs

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/pipeline"
	"github.com/sells-group/modelgen/internal/resilience"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
	"github.com/sells-group/modelgen/internal/validate"
	"github.com/sells-group/modelgen/pkg/anthropic"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestService(t *testing.T) (*Service, store.Store, *recordingNotifier) {
	t.Helper()
	st := newTestStore(t)
	notifier := &recordingNotifier{}
	return NewService(st, taxonomy.Default(), notifier), st, notifier
}

// newTestRunner wires a runner over a live pipeline, a throwaway SQLite
// store, and the mocked oracle. Metrics from the runner config are
// shared with the pipeline, same as the serve command wires them.
func newTestRunner(t *testing.T, oracle *mockAnthropicClient, cfg RunnerConfig) (*Runner, *Service, store.Store) {
	t.Helper()
	st := newTestStore(t)

	reg := taxonomy.Default()
	v, err := validate.New(reg)
	require.NoError(t, err)

	p := pipeline.New(pipeline.Config{
		AgentID: "jobs-test",
		TransportRetry: &resilience.RetryConfig{
			MaxAttempts:    1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2.0,
		},
		Metrics: cfg.Metrics,
	}, oracle, v, reg, st, lineage.NewService(st), nil)

	return NewRunner(st, p, cfg), NewService(st, reg, nil), st
}

func classifyReq(req anthropic.MessageRequest) bool {
	return strings.Contains(req.Messages[0].Content, "Classify this text")
}

func generateReq(req anthropic.MessageRequest) bool {
	return strings.Contains(req.Messages[0].Content, "Build the value model")
}

// Oracle output fixtures, shaped like well-behaved responses to the
// pipeline's prompt contracts.

const queueClassificationJSON = `{
  "archetype": "B3",
  "archetype_name": "Productivity Gain",
  "confidence": "high",
  "alternates": [{"archetype": "B1", "applicability": 0.3}],
  "reasoning": "The text centers on analyst hours saved per week and capacity redeployed to higher value work.",
  "evidence": "Saves each analyst six hours a week on manual report assembly.",
  "split_decision": false
}`

const queueModelJSON = `{
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

// queueForwardRefModelJSON never validates: the calculation reads a
// component declared after it.
const queueForwardRefModelJSON = `{
  "archetype": "B3",
  "title": "Analyst Time Savings",
  "summary": "Calculation declared before the variable it reads.",
  "components": [
    {"id": "annual_value", "kind": "calculation", "name": "Annual value", "formula": "hours_saved * 48", "inputs": ["hours_saved"]},
    {"id": "hours_saved", "kind": "variable", "name": "Hours saved", "unit": "hours", "value": 6}
  ]
}`
