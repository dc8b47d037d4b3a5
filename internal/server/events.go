package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// heartbeatInterval paces SSE comment lines that keep idle connections
// alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents streams job lifecycle notifications as server-sent
// events. Delivery is at-least-once with no cross-client ordering;
// consumers de-duplicate on (job_id, event), which the id field
// repeats. A slow reader falls behind and misses events rather than
// stalling publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the headers go out so no event published after
	// the client sees 200 can be missed.
	ch, cancel := s.deps.Stream.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				zap.L().Warn("server: marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "id: %s/%s\nevent: %s\ndata: %s\n\n", ev.JobID, ev.Type, ev.Type, data)
			flusher.Flush()
		}
	}
}
