package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/models"
)

// wordPressSettingsRequest is the wire shape for creating or updating a WordPressSettings row.
type wordPressSettingsRequest struct {
	Name                   string            `json:"name" validate:"required"`
	SiteURL                string            `json:"site_url" validate:"required,url"`
	Username               string            `json:"username" validate:"required"`
	AppPassword            string            `json:"app_password" validate:"required"`
	UpdateIfExists         bool              `json:"update_if_exists"`
	IncludeMedia           bool              `json:"include_media"`
	SourceCategoryMappings map[uuid.UUID]int `json:"source_category_mappings,omitempty"`
}

func (req wordPressSettingsRequest) toModel() *models.WordPressSettings {
	return &models.WordPressSettings{
		Name:                   req.Name,
		SiteURL:                req.SiteURL,
		Username:               req.Username,
		AppPasswordCiphertext:  req.AppPassword,
		UpdateIfExists:         req.UpdateIfExists,
		IncludeMedia:           req.IncludeMedia,
		SourceCategoryMappings: req.SourceCategoryMappings,
	}
}

// ListWordPressSettings returns every configured WordPress site.
func (h *Handler) ListWordPressSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.DB.ListWordPressSettings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// CreateWordPressSettings registers a new WordPress export target.
func (h *Handler) CreateWordPressSettings(w http.ResponseWriter, r *http.Request) {
	var req wordPressSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings, err := h.DB.CreateWordPressSettings(r.Context(), req.toModel())
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, settings)
}

// UpdateWordPressSettings replaces a WordPress export target's configuration.
func (h *Handler) UpdateWordPressSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req wordPressSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	settings := req.toModel()
	settings.ID = id
	updated, err := h.DB.UpdateWordPressSettings(r.Context(), settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeleteWordPressSettings removes a configured WordPress export target.
func (h *Handler) DeleteWordPressSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.DB.DeleteWordPressSettings(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
