// Package middleware provides the HTTP middleware chain for the
// control-surface server: request ids, panic recovery, and request
// logging.
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/partnerops/draftforge/internal/errors"
)

// ErrorResponse is the JSON shape panic recovery writes. It matches
// the envelope the handlers use for ordinary errors.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into 500 responses.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				apperrors.WriteEnvelope(w, http.StatusInternalServerError, apperrors.HTTPError{
					Code:      apperrors.CodeInternal,
					Message:   fmt.Sprintf("panic: %v", rec),
					RequestID: GetRequestID(r.Context()),
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery kept for callers that chain it
// under that name.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

// Logging emits one structured line per request.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger.Info("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", GetRequestID(r.Context())))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
