package errorhandler

import (
	"context"
	"net/http"

	"github.com/mwork/credits-api/internal/pkg/logger"
	"github.com/mwork/credits-api/internal/pkg/response"
)

// HandleError logs the underlying error with the request id and sends an
// error envelope. err is never echoed to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("request_id", logger.RequestID(ctx)).
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// Internal is shorthand for an unexpected failure.
func Internal(ctx context.Context, w http.ResponseWriter, op string, err error) {
	HandleError(ctx, w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", wrapOp(op, err))
}

// HandleValidation logs field errors at warn level and sends a 422.
func HandleValidation(ctx context.Context, w http.ResponseWriter, fieldErrors map[string]string) {
	logger.FromContext(ctx).Warn().
		Str("request_id", logger.RequestID(ctx)).
		Interface("validation_errors", fieldErrors).
		Msg("Validation error")

	response.ValidationError(w, fieldErrors)
}

// LogDatabaseError logs database errors with context
func LogDatabaseError(ctx context.Context, operation string, err error) {
	logger.FromContext(ctx).Error().
		Str("request_id", logger.RequestID(ctx)).
		Str("operation", operation).
		Err(err).
		Msg("Database error")
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func wrapOp(op string, err error) error {
	if err == nil || op == "" {
		return err
	}
	return &opError{op: op, err: err}
}
