package httpapi

import (
	"net/http"

	"github.com/eventscrape/core/internal/apperr"
)

// statusForError maps the apperr taxonomy (spec §7) onto an HTTP status code. Anything that
// isn't a recognized *apperr.Error is a 500 — an invariant the component layers should never
// violate for a client-caused condition.
func statusForError(err error) (int, string) {
	appErr, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	switch appErr.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case apperr.KindNotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case apperr.KindConflict:
		return http.StatusConflict, "CONFLICT"
	case apperr.KindScraper:
		return http.StatusBadGateway, "SCRAPER_ERROR"
	case apperr.KindExternalAPI:
		return http.StatusBadGateway, "EXTERNAL_API_ERROR"
	case apperr.KindTransientQueue:
		return http.StatusServiceUnavailable, "TRANSIENT_QUEUE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeErr maps err through statusForError and writes it as a JSON error response.
func writeErr(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	respondError(w, status, code, err.Error(), err)
}
