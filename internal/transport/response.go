// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the collaboration API.
package transport

import (
	"encoding/json"
	"net/http"

	"github.com/bucketworks/boardwalk/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:          http.StatusBadRequest,
	model.ErrUnauthorized:        http.StatusUnauthorized,
	model.ErrForbidden:           http.StatusForbidden,
	model.ErrNotFound:            http.StatusNotFound,
	model.ErrValidationError:     http.StatusUnprocessableEntity,
	model.ErrStaleVersion:        http.StatusConflict,
	model.ErrDuplicate:           http.StatusConflict,
	model.ErrUnknownStatus:       http.StatusUnprocessableEntity,
	model.ErrBackfillAborted:     http.StatusBadGateway,
	model.ErrUpstreamError:       http.StatusBadGateway,
	model.ErrUpstreamUnavailable: http.StatusServiceUnavailable,
	model.ErrUpstreamTimeout:     http.StatusGatewayTimeout,
	model.ErrInternalError:       http.StatusInternalServerError,
}

// errorResponse is the wire shape for all error replies. Action is only set
// on stale-version conflicts, where the refreshed record rides along so the
// client can rebase without a second round trip.
type errorResponse struct {
	Error  *model.ErrorEnvelope `json:"error"`
	Action *model.ProjectAction `json:"action,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err is not an *ErrorEnvelope, a generic 500 is returned.
func WriteError(w http.ResponseWriter, err error) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}

	WriteJSON(w, status, errorResponse{Error: ee})
}

// WriteConflict writes a stale-version conflict together with the refreshed
// record when one could be fetched. A zero-valued record is omitted.
func WriteConflict(w http.ResponseWriter, err error, refreshed model.ProjectAction) {
	ee, ok := err.(*model.ErrorEnvelope)
	if !ok {
		ee = model.NewInternalError()
	}

	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusConflict
	}

	body := errorResponse{Error: ee}
	if refreshed.ID != "" {
		body.Action = &refreshed
	}
	WriteJSON(w, status, body)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteForbidden writes a 403 error response.
func WriteForbidden(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewForbiddenError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}
