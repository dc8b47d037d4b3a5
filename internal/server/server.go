// Package server exposes the job pipeline and the lineage graph over
// HTTP. Every route speaks JSON except /api/events, which streams
// server-sent events, and /metrics, which serves the Prometheus
// exposition format.
package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/events"
	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/metrics"
	"github.com/sells-group/modelgen/internal/store"
)

// Config carries the listener settings the serve command reads from
// configuration.
type Config struct {
	AllowedOrigins []string
}

// Deps are the collaborators the HTTP layer fronts. Stream and Metrics
// are optional; leaving either nil disables its routes.
type Deps struct {
	Jobs    *jobs.Service
	Lineage *lineage.Service
	Store   store.Store
	Stream  *events.Broadcaster
	Metrics *metrics.Metrics
}

// Server routes HTTP requests to the job and lineage services.
type Server struct {
	cfg  Config
	deps Deps
}

// New builds a server around the given collaborators.
func New(cfg Config, deps Deps) *Server {
	return &Server{cfg: cfg, deps: deps}
}

// Router assembles the route tree. Metrics wrap the chain outermost so
// recovered panics still count against their route template.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.deps.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(logRequests)
	r.Use(recoverPanics)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmitJob)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleJobStatus)
			r.Post("/{id}/cancel", s.handleCancelJob)
		})
		r.Route("/models", func(r chi.Router) {
			r.Get("/{id}", s.handleGetModel)
			r.Post("/{id}/dashboards", s.handleLinkDashboard)
		})
		r.Route("/lineage", func(r chi.Router) {
			r.Get("/by-source/{hash}", s.handleFindBySource)
			r.Get("/impact/{hash}", s.handleImpact)
			r.Get("/{id}", s.handleLineage)
			r.Post("/{id}/flag", s.handleFlag)
			r.Post("/{id}/verify", s.handleVerify)
		})
		if s.deps.Stream != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

// handleHealth reports liveness. Stores that expose a Ping are checked
// so a wedged database flips the probe before the pipeline starves.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.deps.Store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			zap.L().Warn("server: health ping failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// logRequests emits one access line per request. Health and metrics
// probes are skipped so scrapers do not flood the log.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				zap.L().Error("server: panic recovered",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards so the event stream keeps reaching clients through
// the wrapper.
func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
