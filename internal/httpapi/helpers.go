// Package httpapi is the HTTP façade component (spec §4.K): thin chi handlers that validate
// a request, call the relevant domain component, and return JSON — grounded on the teacher's
// internal/api package (chi.Router setup, respondJSON/respondError envelope convention,
// one file per resource group).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/eventscrape/core/internal/apperr"
	"github.com/eventscrape/core/internal/logging"
)

var validate = validator.New()

// Envelope is the common response wire shape every handler writes, mirroring the teacher's
// models.APIResponse{Status, Data, Metadata, Error}.
type Envelope struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Error    *APIError   `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata carries response-level bookkeeping, just the timestamp for now.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the error half of Envelope.
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Details []apperr.FieldError `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(Envelope{
		Status:   "success",
		Data:     data,
		Metadata: Metadata{Timestamp: time.Now()},
	})
	if err != nil {
		logging.Error().Err(err).Msg("marshal json response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("write json response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, cause error) {
	if cause != nil {
		logging.Error().Str("code", code).Err(cause).Msg("api error")
	}
	var details []apperr.FieldError
	if appErr, ok := apperr.As(cause); ok {
		details = appErr.Details
	}
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(Envelope{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now()},
		Error:    &APIError{Code: code, Message: message, Details: details},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// decodeJSON reads and validates a JSON request body into dst (a pointer). On failure it
// writes the appropriate 4xx response itself and returns false, so callers can just `return`.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON", err)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), err)
		return false
	}
	return true
}

// pathUUID parses a chi URL param as a UUID, writing a 400 response and returning false on
// failure.
func pathUUID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", "path parameter is not a valid UUID", err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func queryTime(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
