package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInternal        = errors.New("internal error")
	ErrRateLimited     = errors.New("rate limited")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrAccountDisabled = errors.New("account disabled")
)

// AppError represents a structured application error with HTTP status mapping.
// Code is the wire-contract error string sent to clients.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	// RetryAfter is populated only for RATE_LIMITED errors, in seconds.
	RetryAfter int   `json:"-"`
	Err        error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// MissingCredential creates a 401 error for absent or malformed credentials.
func MissingCredential(message string) *AppError {
	return &AppError{
		Code:    "MISSING_CREDENTIAL",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// TokenExpired creates a 401 error for a structurally valid token past its expiry.
func TokenExpired() *AppError {
	return &AppError{
		Code:    "TOKEN_EXPIRED",
		Message: "token has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenExpired,
	}
}

// TokenInvalid creates a 401 error for a token that fails signature, issuer,
// audience, or structural checks. Revoked refresh tokens map here too.
func TokenInvalid(message string) *AppError {
	return &AppError{
		Code:    "TOKEN_INVALID",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrTokenInvalid,
	}
}

// AccountDisabled creates a 401 error for a valid credential whose account is inactive.
func AccountDisabled() *AppError {
	return &AppError{
		Code:    "ACCOUNT_DISABLED",
		Message: "account is disabled",
		Status:  http.StatusUnauthorized,
		Err:     ErrAccountDisabled,
	}
}

// APIKeyInvalid creates a 401 error for an unknown key or secret mismatch.
func APIKeyInvalid() *AppError {
	return &AppError{
		Code:    "API_KEY_INVALID",
		Message: "invalid API key",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// APIKeyInactive creates a 401 error for a disabled key with a correct secret.
func APIKeyInactive() *AppError {
	return &AppError{
		Code:    "API_KEY_INACTIVE",
		Message: "API key has been disabled",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// APIKeyExpired creates a 401 error for a key past its expiry.
func APIKeyExpired() *AppError {
	return &AppError{
		Code:    "API_KEY_EXPIRED",
		Message: "API key has expired",
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// InsufficientPermission creates a 403 error for a missing scope grant.
func InsufficientPermission(resource, action string) *AppError {
	return &AppError{
		Code:    "INSUFFICIENT_PERMISSION",
		Message: fmt.Sprintf("API key lacks permission %s:%s", resource, action),
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// CsrfMismatch creates a 403 error for a missing or mismatched CSRF token.
func CsrfMismatch() *AppError {
	return &AppError{
		Code:    "CSRF_MISMATCH",
		Message: "CSRF token missing or invalid",
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// RateLimited creates a 429 error carrying the retry-after window in seconds.
func RateLimited(retryAfter int) *AppError {
	return &AppError{
		Code:       "RATE_LIMITED",
		Message:    "too many requests, please try again later",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
		Err:        ErrRateLimited,
	}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// Unauthorized creates a generic 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Internal creates a 500 error wrapping the underlying cause. The cause is
// logged server-side; clients see a generic message outside development.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrAccountDisabled):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
