package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
)

// scrape serves the handler once and returns the exposition body.
func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestJobLifecycle(t *testing.T) {
	m := New("test")

	m.JobStarted()
	require.Equal(t, 1.0, testutil.ToFloat64(m.jobsInFlight))

	m.JobFinished(OutcomeCompleted, 120*time.Millisecond)
	require.Equal(t, 0.0, testutil.ToFloat64(m.jobsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(OutcomeCompleted)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues(OutcomeFailed)))

	body := scrape(t, m)
	require.Contains(t, body, `modelgen_jobs_process_duration_seconds_count{outcome="completed",service="test"} 1`)
}

func TestOracleCallDerivesStatusFromError(t *testing.T) {
	m := New("test")

	m.OracleCall("classify", 50*time.Millisecond, nil)
	m.OracleCall("classify", 10*time.Millisecond, eris.New("overloaded"))
	m.OracleCall("generate", 80*time.Millisecond, nil)

	require.Equal(t, 1.0, testutil.ToFloat64(m.oracleTotal.WithLabelValues("classify", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.oracleTotal.WithLabelValues("classify", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.oracleTotal.WithLabelValues("generate", "success")))
}

func TestTokenUsageSplitsByDirection(t *testing.T) {
	m := New("test")

	m.AddTokenUsage(900, 240)
	m.AddTokenUsage(100, 0)
	m.AddTokenUsage(-5, -5)

	require.Equal(t, 1000.0, testutil.ToFloat64(m.tokensTotal.WithLabelValues("in")))
	require.Equal(t, 240.0, testutil.ToFloat64(m.tokensTotal.WithLabelValues("out")))
}

func TestQueueLagDropsNegative(t *testing.T) {
	m := New("test")

	m.ObserveQueueLag(-time.Second)
	m.ObserveQueueLag(2 * time.Second)

	body := scrape(t, m)
	require.Contains(t, body, `modelgen_jobs_queue_lag_seconds_count{service="test"} 1`)
}

func TestAttemptsSkipZero(t *testing.T) {
	m := New("test")

	m.ObserveAttempts("classify", 1)
	m.ObserveAttempts("generate", 3)
	// An archetype override skips classification and reports zero attempts.
	m.ObserveAttempts("classify", 0)

	body := scrape(t, m)
	require.Contains(t, body, `modelgen_jobs_validation_attempts_count{phase="classify",service="test"} 1`)
	require.Contains(t, body, `modelgen_jobs_validation_attempts_count{phase="generate",service="test"} 1`)
}

func TestSweptCounter(t *testing.T) {
	m := New("test")

	m.JobSwept()
	m.JobSwept()

	require.Equal(t, 2.0, testutil.ToFloat64(m.sweptTotal))
}

func TestNilMetricsRecordsNothing(t *testing.T) {
	var m *Metrics

	// Every record method must be a no-op, not a panic.
	m.JobStarted()
	m.JobFinished(OutcomeFailed, time.Second)
	m.ObserveQueueLag(time.Second)
	m.ObserveAttempts("classify", 2)
	m.JobSwept()
	m.OracleCall("generate", time.Second, nil)
	m.AddTokenUsage(10, 10)
}
