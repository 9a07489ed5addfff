package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAuthentication marks a request without a usable identity.
	ErrAuthentication = errors.New("authentication failed")
	// ErrAuthorization marks an authenticated request the subject may not perform.
	ErrAuthorization = errors.New("permission denied")
	// ErrThrottled is returned when attempts exceed the configured limits.
	ErrThrottled = errors.New("too many attempts")
	// ErrInfrastructure wraps store failures; callers deny instead of surfacing 5xx.
	ErrInfrastructure = errors.New("infrastructure unavailable")
	// ErrAccountDisabled indicates the subject has been disabled.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountLocked indicates the subject is locked after repeated failures.
	ErrAccountLocked = errors.New("account locked")
	// ErrImmutable is returned when mutating a system-owned record.
	ErrImmutable = errors.New("record is immutable")
)
