package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eventscrape/core/internal/models"
)

// sourceRequest is the wire shape for creating or updating a Source.
type sourceRequest struct {
	Name                 string                        `json:"name" validate:"required"`
	BaseURL              string                        `json:"base_url" validate:"required,url"`
	ModuleKey            string                        `json:"module_key" validate:"required"`
	Active               bool                          `json:"active"`
	DefaultTimezone      string                        `json:"default_timezone" validate:"required"`
	RateLimitPerMin      int                           `json:"rate_limit_per_min" validate:"gte=0"`
	SourceType           models.SourceType             `json:"source_type" validate:"required"`
	InstagramUsername    *string                       `json:"instagram_username,omitempty"`
	ClassificationMode   *models.InstagramClassificationMode `json:"classification_mode,omitempty"`
	InstagramScraperType *models.InstagramScraperType  `json:"instagram_scraper_type,omitempty"`
}

func (req sourceRequest) toModel() *models.Source {
	return &models.Source{
		Name:                 req.Name,
		BaseURL:              req.BaseURL,
		ModuleKey:            req.ModuleKey,
		Active:               req.Active,
		DefaultTimezone:      req.DefaultTimezone,
		RateLimitPerMin:      req.RateLimitPerMin,
		SourceType:           req.SourceType,
		InstagramUsername:    req.InstagramUsername,
		ClassificationMode:   req.ClassificationMode,
		InstagramScraperType: req.InstagramScraperType,
	}
}

// ListSources returns every source, optionally filtered to active ones via ?active=true.
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	sources, err := h.DB.ListSources(r.Context(), activeOnly)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sources)
}

// GetSource fetches one source by ID.
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	source, err := h.DB.GetSource(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, source)
}

// CreateSource registers a new scrape source.
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	source, err := h.DB.CreateSource(r.Context(), req.toModel())
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, source)
}

// UpdateSource replaces a source's editable fields.
func (h *Handler) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	source := req.toModel()
	source.ID = id
	updated, err := h.DB.UpdateSource(r.Context(), source)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteSource removes a source.
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.DB.DeleteSource(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
