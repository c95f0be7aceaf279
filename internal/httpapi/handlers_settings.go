package httpapi

import (
	"net/http"

	"github.com/eventscrape/core/internal/models"
)

// settingsRequest is the wire shape for updating the singleton SystemSettings row.
type settingsRequest struct {
	AIProvider              string                         `json:"ai_provider,omitempty"`
	AIAPIKey                string                         `json:"ai_api_key,omitempty"`
	InstagramDefaultScraper *models.InstagramScraperType   `json:"instagram_default_scraper,omitempty"`
	InstagramAllowOverride  bool                           `json:"instagram_allow_override"`
	FeatureFlags            map[string]bool                `json:"feature_flags,omitempty"`
}

// GetSettings returns the singleton system settings row, creating defaults on first access.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.DB.GetSettings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// UpdateSettings replaces the singleton system settings row.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	existing, err := h.DB.GetSettings(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	existing.AIProvider = req.AIProvider
	if req.AIAPIKey != "" {
		existing.AIAPIKeyCiphertext = req.AIAPIKey
	}
	existing.InstagramDefaultScraper = req.InstagramDefaultScraper
	existing.InstagramAllowOverride = req.InstagramAllowOverride
	existing.FeatureFlags = req.FeatureFlags

	updated, err := h.DB.UpdateSettings(r.Context(), existing)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
