package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/CodingButter/braidarr/pkg/errors"
	"github.com/CodingButter/braidarr/pkg/logger"
	"github.com/CodingButter/braidarr/pkg/validator"
)

// ErrorBody is the flat JSON error shape returned to clients. The field names
// are part of the wire contract: error carries the machine-readable code,
// message the human-readable detail, and retryAfter (seconds) rides only on
// rate-limit responses.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Development controls whether 500 responses carry the underlying error text.
// Set once at start-up; outside development clients see a generic message so
// internal details are not disclosed.
var Development bool

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a standardized error response based on the error type.
// AppErrors map directly to their status and code; anything else is treated
// as an internal fault, logged with full detail, and reported generically.
// It prefers the request-scoped logger from context over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() {
		l = fallback
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status != http.StatusInternalServerError {
		WriteJSON(w, appErr.Status, ErrorBody{
			Error:      appErr.Code,
			Message:    appErr.Message,
			RetryAfter: appErr.RetryAfter,
		})
		return
	}

	// Internal fault. Full detail server-side, generic detail client-side
	// unless running in development.
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	message := "an internal error occurred"
	if Development {
		message = err.Error()
	}
	WriteJSON(w, http.StatusInternalServerError, ErrorBody{
		Error:   "INTERNAL_ERROR",
		Message: message,
	})
}

// WriteValidationError writes a 400 response for request DTO validation
// failures, flattening field errors into the message.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, ErrorBody{
			Error:   "VALIDATION_ERROR",
			Message: valErr.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, ErrorBody{
		Error:   "INVALID_INPUT",
		Message: err.Error(),
	})
}
