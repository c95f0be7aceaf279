package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/eventscrape/core/internal/logstream"
)

// StreamLogs serves a run's log tail as Server-Sent Events: replay first, then live-tail
// until the client disconnects (spec §4.F).
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, chi.URLParam(r, "run_id"))
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported by this connection", nil)
		return
	}

	client, replay, err := h.Logs.Subscribe(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer func() { h.Logs.Unregister <- client }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	for i := range replay {
		writeSSELine(w, &replay[i])
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-client.Send():
			if !open {
				return
			}
			switch ev.Type {
			case logstream.EventLog:
				writeSSELine(w, ev.Line)
			case logstream.EventHeartbeat:
				fmt.Fprint(w, ": heartbeat\n\n")
			case logstream.EventConnected:
				fmt.Fprint(w, "event: connected\ndata: {}\n\n")
			}
			flusher.Flush()
		}
	}
}

func writeSSELine(w http.ResponseWriter, line interface{}) {
	body, err := json.Marshal(line)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: log\ndata: %s\n\n", body)
}

// LogHistory returns up to ?limit= historical log lines for a run without opening a stream.
func (h *Handler) LogHistory(w http.ResponseWriter, r *http.Request) {
	runID, ok := pathUUID(w, chi.URLParam(r, "run_id"))
	if !ok {
		return
	}
	limit := int64(queryInt(r, "limit", 1000))
	lines, err := h.Streams.ReplayLogLines(r.Context(), runID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lines)
}
