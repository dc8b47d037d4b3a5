package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	vm, err := s.deps.Store.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

// handleLinkDashboard registers a dashboard as a downstream consumer of
// a model. Links are idempotent; repeating one changes nothing.
func (s *Server) handleLinkDashboard(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")

	var req struct {
		DashboardID string `json:"dashboard_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.DashboardID) == "" {
		writeError(w, http.StatusBadRequest, "dashboard_id is required")
		return
	}

	// The link insert itself does not verify the model row, so look it
	// up first to give unknown ids a 404 instead of a dangling edge.
	if _, err := s.deps.Store.GetModel(r.Context(), modelID); err != nil {
		respondError(w, err)
		return
	}
	if err := s.deps.Lineage.LinkDashboard(r.Context(), modelID, req.DashboardID); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	lin, err := s.deps.Lineage.Lineage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lin)
}

func (s *Server) handleFindBySource(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Lineage.FindBySource(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"extractions": rows,
		"count":       len(rows),
	})
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	rows, err := s.deps.Lineage.ImpactAnalysis(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"impact": rows,
		"count":  len(rows),
	})
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Issues []string `json:"issues"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.deps.Lineage.Flag(r.Context(), chi.URLParam(r, "id"), req.Issues); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lineage.Verify(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
