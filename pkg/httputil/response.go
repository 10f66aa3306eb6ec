package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/tenancy/pkg/apperrors"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes a 201 response
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteNoContent writes a 204 response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteErrorMessage writes an error body with a generic code derived from the status
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

// WriteBadRequest writes a 400
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a 403
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteTooManyRequests writes a 429
func WriteTooManyRequests(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusTooManyRequests, message)
}

// StatusFor maps an application error kind to an HTTP status
func StatusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindForbidden:
		return http.StatusForbidden
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError writes err using its kind and code. Unclassified and
// persistence failures are logged and reported without their cause.
func WriteAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindPersistence {
		observability.FromContext(r.Context()).WithError(err).Error("request failed")
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   string(apperrors.CodePersistence),
			Message: "internal error",
		})
		return
	}

	WriteJSON(w, StatusFor(appErr.Kind), ErrorResponse{
		Error:   string(appErr.Code),
		Message: appErr.Message,
	})
}
