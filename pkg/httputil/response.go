// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, pagination and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/ptbhub/pkg/apperrors"
	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// ErrorResponse is the error body returned by every endpoint
type ErrorResponse struct {
	Detail string              `json:"detail"`
	Code   string              `json:"code,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteDetail writes an error body with an optional machine code
func WriteDetail(w http.ResponseWriter, status int, detail, code string) {
	_ = WriteJSON(w, status, ErrorResponse{Detail: detail, Code: code})
}

// WriteError maps err to a status code and body. Unclassified errors are
// logged with a stack and answered with an opaque 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindUnknown || appErr.Kind == apperrors.KindFatal {
		observability.FromContext(r.Context()).
			WithError(err).
			WithStack().
			WithField("path", r.URL.Path).
			Error("Unhandled error in handler")
		WriteDetail(w, http.StatusInternalServerError, "Internal server error", "")
		return
	}

	status := appErr.Kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Handler failed")
	}

	body := ErrorResponse{Detail: appErr.Message, Code: appErr.Code, Errors: appErr.Fields}
	if body.Detail == "" {
		body.Detail = http.StatusText(status)
	}
	_ = WriteJSON(w, status, body)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusBadRequest, message, apperrors.CodeInvalid)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message, code string) {
	WriteDetail(w, http.StatusUnauthorized, message, code)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusForbidden, message, apperrors.CodePermissionDenied)
}

// WriteNotFound writes a not found error (404)
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusNotFound, message, apperrors.CodeNotFound)
}

// WriteTooManyRequests writes a rate limit error (429)
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteDetail(w, http.StatusTooManyRequests, message, apperrors.CodeRateLimited)
}

// WriteCreated writes a successful creation response (201 Created)
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK)
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
