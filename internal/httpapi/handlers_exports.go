package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/export"
	"github.com/eventscrape/core/internal/models"
)

// exportRequest is the wire shape for POST /api/exports.
type exportRequest struct {
	Format              models.ExportFormat    `json:"format" validate:"required"`
	FieldMap            []export.FieldMapping  `json:"field_map,omitempty"`
	WordPressSettingsID *uuid.UUID             `json:"wordpress_settings_id,omitempty"`
	Filter              exportFilterRequest    `json:"filter"`
}

type exportFilterRequest struct {
	StartDate *time.Time             `json:"start_date,omitempty"`
	EndDate   *time.Time             `json:"end_date,omitempty"`
	City      string                 `json:"city,omitempty"`
	Category  string                 `json:"category,omitempty"`
	SourceIDs []uuid.UUID            `json:"source_ids,omitempty"`
	IDs       []uuid.UUID            `json:"ids,omitempty"`
	Status    models.CanonicalStatus `json:"status,omitempty"`
}

func (f exportFilterRequest) toModel() models.ExportFilter {
	return models.ExportFilter{
		StartDate: f.StartDate,
		EndDate:   f.EndDate,
		City:      f.City,
		Category:  f.Category,
		SourceIDs: f.SourceIDs,
		IDs:       f.IDs,
		Status:    f.Status,
	}
}

// ListExports returns recent exports, capped by ?limit= (default 50).
func (h *Handler) ListExports(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	exports, err := h.DB.ListExports(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exports)
}

// GetExport fetches one export by ID.
func (h *Handler) GetExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	exp, err := h.DB.GetExport(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exp)
}

// CreateExport starts an export asynchronously and returns the still-processing row
// immediately (spec §4.K: `POST /exports` -> 202).
func (h *Handler) CreateExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	exp, err := h.Export.Start(r.Context(), export.Request{
		Filter:              req.Filter.toModel(),
		Format:              req.Format,
		FieldMap:            req.FieldMap,
		WordPressSettingsID: req.WordPressSettingsID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, exp)
}

// CancelExport requests cooperative cancellation of a still-processing export.
func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.Export.Cancel(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

// DownloadExport streams a completed file-format export's output.
func (h *Handler) DownloadExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	exp, err := h.DB.GetExport(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if exp.Status != models.ExportSuccess || exp.FilePath == nil {
		respondError(w, http.StatusConflict, "NOT_READY", "export is not complete or has no file output", nil)
		return
	}
	http.ServeFile(w, r, *exp.FilePath)
}
