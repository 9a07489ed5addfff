// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/warden-rbac/warden/internal/shared"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Titles are localized; detail never carries internal error text.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	status, title := classify(err)
	Problem(w, status, Localize(r, title), "")
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict, "Duplicate"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrImmutable):
		return http.StatusConflict, "Immutable"
	case errors.Is(err, shared.ErrThrottled):
		return http.StatusTooManyRequests, "Too Many Attempts"
	case errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid Credentials"
	case errors.Is(err, shared.ErrAccountLocked):
		return http.StatusForbidden, "Account Locked"
	case errors.Is(err, shared.ErrAccountDisabled):
		return http.StatusForbidden, "Account Disabled"
	case errors.Is(err, ErrUnauthorized), errors.Is(err, shared.ErrAuthentication):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, ErrForbidden), errors.Is(err, shared.ErrAuthorization), errors.Is(err, shared.ErrInfrastructure):
		return http.StatusForbidden, "Forbidden"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
