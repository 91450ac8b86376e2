package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// ErrorResponse wraps an OJS error for JSON serialization.
type ErrorResponse struct {
	Error *core.OJSError `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", core.OJSMediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an OJS-formatted error response.
func WriteError(w http.ResponseWriter, status int, err *core.OJSError) {
	if err.RequestID == "" {
		err.RequestID = w.Header().Get("X-Request-Id")
	}
	WriteJSON(w, status, ErrorResponse{Error: err})
}

// StatusFor maps an OJS error code to its HTTP status.
func StatusFor(code string) int {
	switch code {
	case core.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case core.ErrCodeValidationError:
		return http.StatusUnprocessableEntity
	case core.ErrCodeNotFound:
		return http.StatusNotFound
	case core.ErrCodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteOJSError maps an OJSError to the appropriate HTTP status code and writes it.
func WriteOJSError(w http.ResponseWriter, err *core.OJSError) {
	WriteError(w, StatusFor(err.Code), err)
}

// HandleError maps an error to the appropriate HTTP status and writes it.
func HandleError(w http.ResponseWriter, err error) {
	var ojsErr *core.OJSError
	if errors.As(err, &ojsErr) {
		WriteOJSError(w, ojsErr)
		return
	}
	WriteError(w, http.StatusInternalServerError, core.NewInternalError(err.Error()))
}
