package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/queue"
)

// ListRuns returns recent runs, optionally scoped to one source via ?source_id= and capped
// by ?limit= (default 50).
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var sourceID uuid.UUID
	if raw := r.URL.Query().Get("source_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_ID", "source_id is not a valid UUID", err)
			return
		}
		sourceID = id
	}
	limit := queryInt(r, "limit", 50)
	runs, err := h.Runs.List(r.Context(), sourceID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// GetRun fetches one run by ID. A batch parent also reports its children's aggregated state.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	run, err := h.Runs.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// StartScrape enqueues a one-off scrape for the source registered under module_key, creating
// its run row up front (spec §6's `POST /api/runs/scrape/:module_key`).
func (h *Handler) StartScrape(w http.ResponseWriter, r *http.Request) {
	moduleKey := chi.URLParam(r, "module_key")
	source, err := h.DB.GetSourceByModuleKey(r.Context(), moduleKey)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !source.Active {
		writeErr(w, apperr.Validation("source registered under this module_key is inactive"))
		return
	}
	run, err := h.Runs.Start(r.Context(), source.ID, nil)
	if err != nil {
		writeErr(w, err)
		return
	}
	jobID, err := queue.Enqueue(r.Context(), h.Publisher, queue.TopicScrape, queue.ScrapePayload{
		RunID:    run.ID,
		SourceID: source.ID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"run": run, "job_id": jobID})
}

// CancelRun requests cooperative cancellation of an in-flight run.
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.Runs.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
