package httpapi

import "net/http"

// Health reports process liveness plus a database connectivity probe, grounded on the
// teacher's Health/HealthReady handlers (ping the backing store, 200 if reachable).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.DB.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":   status,
		"uptime_s": h.startTimeSince().Seconds(),
	})
}
