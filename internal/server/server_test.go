package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
	"github.com/sells-group/modelgen/internal/taxonomy"
)

// env holds the wired collaborators so tests can seed state around the
// HTTP surface.
type env struct {
	store   *store.SQLiteStore
	jobs    *jobs.Service
	lineage *lineage.Service
	stream  *events.Broadcaster
	metrics *metrics.Metrics
}

func newTestServer(t *testing.T) (*httptest.Server, env) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	stream := events.NewBroadcaster(8)
	t.Cleanup(stream.Close)

	e := env{
		store:   st,
		jobs:    jobs.NewService(st, taxonomy.Default(), stream),
		lineage: lineage.NewService(st),
		stream:  stream,
		metrics: metrics.New("server-test"),
	}
	srv := New(Config{AllowedOrigins: []string{"*"}}, Deps{
		Jobs:    e.jobs,
		Lineage: e.lineage,
		Store:   st,
		Stream:  stream,
		Metrics: e.metrics,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, e
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func apiError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	return body.Error
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestSubmitAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/jobs", map[string]string{
		"input_text": "Subscription SaaS with tiered seats and annual contracts.",
		"source_uri": "s3://research/acme.txt",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job model.Job
	decode(t, resp, &job)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view model.JobView
	decode(t, resp, &view)
	assert.Equal(t, job.ID, view.Job.ID)
	assert.Equal(t, model.JobStatusPending, view.Job.Status)
}

func TestSubmitValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodPost, ts.URL+"/api/jobs", map[string]string{"input_text": "   "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "input text")

	resp = do(t, http.MethodPost, ts.URL+"/api/jobs", map[string]string{
		"input_text":         "real text",
		"archetype_override": "B99",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "archetype")

	resp, err := http.Post(ts.URL+"/api/jobs", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid request body", apiError(t, resp))
}

func TestListJobs(t *testing.T) {
	ts, e := newTestServer(t)
	ctx := context.Background()

	for _, text := range []string{"first input", "second input", "third input"} {
		_, err := e.jobs.Submit(ctx, jobs.SubmitRequest{InputText: text})
		require.NoError(t, err)
	}

	var body struct {
		Jobs  []model.Job `json:"jobs"`
		Count int         `json:"count"`
	}

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, 3, body.Count)
	assert.Len(t, body.Jobs, 3)

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, 2, body.Count)

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, 3, body.Count)

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs?status=completed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &body)
	assert.Equal(t, 0, body.Count)
}

func TestListJobsRejectsBadFilters(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs?status=bogus", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "unknown status")

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs?limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "limit")

	resp = do(t, http.MethodGet, ts.URL+"/api/jobs?offset=-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "offset")
}

func TestJobNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/jobs/no-such-job", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "not found")
}

func TestCancelJob(t *testing.T) {
	ts, e := newTestServer(t)

	job, err := e.jobs.Submit(context.Background(), jobs.SubmitRequest{InputText: "cancel me"})
	require.NoError(t, err)

	resp := do(t, http.MethodPost, ts.URL+"/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var canceled model.Job
	decode(t, resp, &canceled)
	assert.Equal(t, model.JobStatusFailed, canceled.Status)
	assert.Equal(t, model.ErrorClassCanceled, canceled.ErrorClass)

	// A second cancel hits a terminal job.
	resp = do(t, http.MethodPost, ts.URL+"/api/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, apiError(t, resp), "terminal")
}

func TestUnknownRouteIsJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, http.MethodGet, ts.URL+"/api/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", apiError(t, resp))

	resp = do(t, http.MethodDelete, ts.URL+"/api/jobs", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "method not allowed", apiError(t, resp))
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/jobs", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.internal")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(raw),
		`modelgen_http_requests_total{method="GET",path="/healthz",service="server-test",status="200"} 1`)
}
