package models

import "errors"

// Error taxonomy shared across packages. Callers wrap these with context
// and match them with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("job not found")
	ErrNotReady              = errors.New("job not ready")
	ErrConfiguration         = errors.New("configuration error")
	ErrDelegationUnavailable = errors.New("delegation unavailable")
	ErrAuth                  = errors.New("authentication failed")
	ErrTimeout               = errors.New("operation timed out")
	ErrInvalidMedia          = errors.New("invalid media")
	ErrFetch                 = errors.New("fetch failed")
)
