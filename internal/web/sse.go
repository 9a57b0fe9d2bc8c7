package web

import (
	"encoding/json"
	"net/http"
	"time"

	"nvr/internal/model"
)

// handleMovementsStream implements GET /api/movements/stream (§6):
// text/event-stream, one JSON line per message, no replay.
func (s *Server) handleMovementsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	connected, _ := json.Marshal(model.SSEEvent{Type: model.SSEConnected})
	if _, err := w.Write(append(connected, '\n')); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.Chan():
			if !ok {
				return
			}
			if _, err := w.Write(append(payload, '\n')); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			// keep-alive comment line so idle proxies don't close the
			// connection.
			if _, err := w.Write([]byte(": ping\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
