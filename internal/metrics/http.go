package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Middleware records request counts, durations, and the in-flight gauge
// for every request passing through. Paths are collapsed to their route
// templates so job and extraction ids do not blow up the label space.
// A nil receiver passes requests through untouched.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/jobs/"):
		if strings.HasSuffix(path, "/cancel") {
			return "/api/jobs/{id}/cancel"
		}
		return "/api/jobs/{id}"
	case strings.HasPrefix(path, "/api/lineage/by-source/"):
		return "/api/lineage/by-source/{hash}"
	case strings.HasPrefix(path, "/api/lineage/impact/"):
		return "/api/lineage/impact/{hash}"
	case strings.HasPrefix(path, "/api/lineage/"):
		switch {
		case strings.HasSuffix(path, "/flag"):
			return "/api/lineage/{id}/flag"
		case strings.HasSuffix(path, "/verify"):
			return "/api/lineage/{id}/verify"
		}
		return "/api/lineage/{id}"
	case strings.HasPrefix(path, "/api/models/"):
		if strings.HasSuffix(path, "/dashboards") {
			return "/api/models/{id}/dashboards"
		}
		return "/api/models/{id}"
	}
	return path
}

// statusRecorder captures the response code for the request counter.
// Flush forwards so the event stream still reaches clients through the
// wrapper.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
