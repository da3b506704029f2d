// internal/app/features/errors/errors.go
package errors

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorLogger logs handler failures with the request fields attached.
type ErrorLogger struct {
	log *zap.Logger
}

// NewErrorLogger wraps logger. A nil logger discards.
func NewErrorLogger(logger *zap.Logger) *ErrorLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorLogger{log: logger}
}

func requestFields(r *http.Request) []zap.Field {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("host", r.Host),
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

// Log records err at error level.
func (e *ErrorLogger) Log(r *http.Request, msg string, err error, fields ...zap.Field) {
	fields = append(requestFields(r), fields...)
	e.log.Error(msg, append(fields, zap.Error(err))...)
}

// Warn records err at warn level, for failures the user can retry.
func (e *ErrorLogger) Warn(r *http.Request, msg string, err error, fields ...zap.Field) {
	fields = append(requestFields(r), fields...)
	e.log.Warn(msg, append(fields, zap.Error(err))...)
}

// ServerError logs err and writes a generic 500 body. The error text is
// not sent to the client.
func (e *ErrorLogger) ServerError(w http.ResponseWriter, r *http.Request, msg string, err error, fields ...zap.Field) {
	e.Log(r, msg, err, fields...)
	Write(w, http.StatusInternalServerError, Body{
		Kind:    "unexpected",
		Message: "Something went wrong. Please try again.",
	})
}
