package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

var log = logger.Default().Named("httputil")

// SetLogger replaces the logger used for encode and internal errors.
func SetLogger(l *logger.Logger) { log = l.Named("httputil") }

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("JSON encode error", "error", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 response with the given data.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// NotFound writes a 404 error.
func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, message)
}

// InternalError writes a 500 error. Logs the real error but returns a
// generic message to the client (never leak internals).
func InternalError(w http.ResponseWriter, err error) {
	log.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// WriteError maps a service error onto a status code and error code.
// Conflicts carry the full message since it tells the caller what to do.
func WriteError(w http.ResponseWriter, err error) {
	var inUse *domain.ListInUseError
	switch {
	case errors.As(err, &inUse):
		JSON(w, http.StatusConflict, ErrorResponse{
			Error:   inUse.Error(),
			Code:    "list_in_use",
			Details: map[string]any{"active_enrollments": inUse.ActiveEnrollments},
		})
	case errors.Is(err, domain.ErrDuplicateEnrollment):
		JSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_enrollment"})
	case errors.Is(err, domain.ErrInvalidTransition):
		JSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, domain.ErrNotFound):
		JSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"})
	case errors.Is(err, domain.ErrUnauthorized):
		JSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Code: "unauthorized"})
	case errors.Is(err, domain.ErrInvalidInput):
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, domain.ErrTransactionFailed):
		log.Warn("transaction failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "temporarily unavailable, retry", Code: "transaction_failed"})
	case errors.Is(err, domain.ErrCapacityExceeded):
		JSON(w, http.StatusTooManyRequests, ErrorResponse{Error: err.Error(), Code: "capacity_exceeded"})
	default:
		InternalError(w, err)
	}
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
