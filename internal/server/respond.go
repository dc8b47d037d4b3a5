package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/lineage"
	"github.com/sells-group/modelgen/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// respondError maps service errors onto HTTP statuses. Anything not
// recognized becomes a 500 with the detail kept server-side.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrEmptyInput),
		errors.Is(err, jobs.ErrUnknownArchetype),
		errors.Is(err, jobs.ErrUnknownStatus),
		errors.Is(err, lineage.ErrNoIssues):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, jobs.ErrTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zap.L().Error("server: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
