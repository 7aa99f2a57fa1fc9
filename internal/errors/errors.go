// Package errors defines the application error vocabulary and the
// JSON envelope every HTTP error response uses.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes shared between the HTTP surface and the CLI.
const (
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInvalidArgument  = "INVALID_ARGUMENT"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
)

// AppError carries an error code and the HTTP status it maps to.
type AppError struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NotFoundf builds a 404 error.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: CodeNotFound, Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds a 400 error.
func InvalidArgumentf(format string, args ...any) *AppError {
	return &AppError{Code: CodeInvalidArgument, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a 409 error for state transitions the job's current
// status forbids.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: CodeConflict, Status: http.StatusConflict, Message: fmt.Sprintf(format, args...)}
}

// Internalf wraps an unexpected failure as a 500 error.
func Internalf(err error, format string, args ...any) *AppError {
	return &AppError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...), Err: err}
}

// HTTPErrorResponse is the wire shape of every error the server emits.
type HTTPErrorResponse struct {
	Error HTTPError `json:"error"`
}

// HTTPError is the envelope payload.
type HTTPError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondWithError writes err as a JSON envelope. Unknown error types
// are reported as internal errors without leaking their message.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var app *AppError
	if !errors.As(err, &app) {
		app = &AppError{
			Code:    CodeInternal,
			Status:  http.StatusInternalServerError,
			Message: "internal error",
			Err:     err,
		}
	}

	WriteEnvelope(w, app.Status, HTTPError{
		Code:      app.Code,
		Message:   app.Message,
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

// WriteEnvelope writes a bare error envelope with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, body HTTPError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: body})
}
