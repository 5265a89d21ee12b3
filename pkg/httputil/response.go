package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Envelope error codes
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Envelope is the shape of every API response body
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes {success: true, data} with 200 OK
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	_ = WriteJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// WriteCreated writes {success: true, data} with 201 Created
func WriteCreated(w http.ResponseWriter, data interface{}) {
	_ = WriteJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// WriteErrorBody writes {success: false, error} with the given status
func WriteErrorBody(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	_ = WriteJSON(w, status, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, Details: details},
	})
}

// StatusFor maps an error kind onto its HTTP status and envelope code
func StatusFor(kind apperrors.Kind) (int, string) {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest, CodeValidation
	case apperrors.KindUnauthenticated:
		return http.StatusUnauthorized, CodeUnauthorized
	case apperrors.KindForbidden:
		return http.StatusForbidden, CodeForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound, CodeNotFound
	case apperrors.KindConflict:
		return http.StatusConflict, CodeConflict
	case apperrors.KindRateLimited:
		return http.StatusTooManyRequests, CodeRateLimited
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// WriteAppError writes err as an envelope. Internal errors are logged and
// answered with a generic message.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindInternal {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
		WriteErrorBody(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
		return
	}

	status, code := StatusFor(appErr.Kind)
	WriteErrorBody(w, status, code, appErr.Message, appErr.Details)
}

// WriteValidationError writes a 400 VALIDATION_ERROR envelope
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteErrorBody(w, http.StatusBadRequest, CodeValidation, message, nil)
}

// WriteUnauthorized writes a 401 envelope
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorBody(w, http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

// WriteForbidden writes a 403 envelope
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorBody(w, http.StatusForbidden, CodeForbidden, message, nil)
}

// WriteInternalError writes a generic 500 envelope
func WriteInternalError(w http.ResponseWriter) {
	WriteErrorBody(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
}
