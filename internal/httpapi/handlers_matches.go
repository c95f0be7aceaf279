package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eventscrape/core/internal/match"
	"github.com/eventscrape/core/internal/models"
)

// ListMatches returns matches filtered by ?status= (default "open").
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	status := models.MatchStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.MatchOpen
	}
	matches, err := h.DB.ListMatches(r.Context(), status)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

// GetMatch fetches one match by ID.
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	m, err := h.DB.GetMatch(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// generateMatchesRequest drives candidate generation over a window around a center time.
type generateMatchesRequest struct {
	Center time.Time     `json:"center" validate:"required"`
	Window time.Duration `json:"window_seconds,omitempty"`
	City   string        `json:"city,omitempty"`
}

// GenerateMatches runs duplicate-candidate scoring over the given window and returns any new
// open matches written.
func (h *Handler) GenerateMatches(w http.ResponseWriter, r *http.Request) {
	var req generateMatchesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	window := req.Window
	if window <= 0 {
		window = match.DefaultWindow
	}
	matches, err := h.Match.GenerateCandidates(r.Context(), req.Center, window, req.City)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, matches)
}

// ConfirmMatch marks a match confirmed without merging it into a canonical event.
func (h *Handler) ConfirmMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	m, err := h.Match.Confirm(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// RejectMatch marks a match rejected.
func (h *Handler) RejectMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	m, err := h.Match.Reject(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// mergeMatchRequest carries optional operator field overrides for the merged canonical event.
type mergeMatchRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	VenueName   *string `json:"venue_name,omitempty"`
	City        *string `json:"city,omitempty"`
	Organizer   *string `json:"organizer,omitempty"`
	Category    *string `json:"category,omitempty"`
	URL         *string `json:"url,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
}

func (req mergeMatchRequest) toOverrides() match.MergeOverrides {
	return match.MergeOverrides{
		Title:       req.Title,
		Description: req.Description,
		VenueName:   req.VenueName,
		City:        req.City,
		Organizer:   req.Organizer,
		Category:    req.Category,
		URL:         req.URL,
		ImageURL:    req.ImageURL,
	}
}

// MergeMatch confirms a match and merges its two raw events into a canonical event.
func (h *Handler) MergeMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req mergeMatchRequest
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	canonical, err := h.Match.Merge(r.Context(), id, req.toOverrides())
	if err != nil {
		writeErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, canonical)
}
