package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/models"
	"github.com/eventscrape/core/internal/scheduler"
)

// scheduleRequest is the wire shape for creating or updating a Schedule. Config is decoded
// against ScheduleType via scheduler.DecodeConfig once Type is known.
type scheduleRequest struct {
	ScheduleType models.ScheduleType `json:"schedule_type" validate:"required"`
	SourceID     *uuid.UUID          `json:"source_id,omitempty"`
	Cron         string              `json:"cron" validate:"required"`
	Timezone     string              `json:"timezone" validate:"required"`
	Active       bool                `json:"active"`
	Config       json.RawMessage     `json:"config"`
}

func (req scheduleRequest) decodeConfig() (scheduler.ScheduleConfig, error) {
	return scheduler.DecodeConfig(req.ScheduleType, req.Config)
}

// ListSchedules returns every schedule, optionally filtered to active ones via ?active=true.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	schedules, err := h.DB.ListSchedules(r.Context(), activeOnly)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, schedules)
}

// GetSchedule fetches one schedule by ID.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	sched, err := h.DB.GetSchedule(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

// CreateSchedule registers a new cron-driven schedule.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := req.decodeConfig()
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), err)
		return
	}
	sched, err := h.Scheduler.Create(r.Context(), req.ScheduleType, req.SourceID, req.Cron, req.Timezone, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sched)
}

// UpdateSchedule changes an existing schedule's cron, timezone, active flag, or config.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req scheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := req.decodeConfig()
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error(), err)
		return
	}
	sched, err := h.Scheduler.Update(r.Context(), id, req.Cron, req.Timezone, req.Active, cfg)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

// DeleteSchedule removes a schedule and its repeat-key registration.
func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.Scheduler.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSchedule enqueues one schedule's job immediately, independent of its cron timing.
func (h *Handler) TriggerSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	jobID, err := h.Scheduler.TriggerNow(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID})
}

// TriggerAllActiveSchedules enqueues every currently active schedule's job immediately.
func (h *Handler) TriggerAllActiveSchedules(w http.ResponseWriter, r *http.Request) {
	jobIDs, errs := h.Scheduler.TriggerAllActive(r.Context())
	if len(errs) > 0 && len(jobIDs) == 0 {
		writeErr(w, apperr.TransientQueue("failed to trigger any active schedule", errs[0]))
		return
	}
	resp := map[string]any{"job_ids": jobIDs}
	if len(errs) > 0 {
		messages := make([]string, len(errs))
		for i, e := range errs {
			messages[i] = e.Error()
		}
		resp["errors"] = messages
	}
	respondJSON(w, http.StatusAccepted, resp)
}
