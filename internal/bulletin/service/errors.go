package service

import "errors"

// Validation errors.  The HTTP layer maps these to 400.
var (
	ErrSessionRequired = errors.New("sessionId is required")
	ErrCodeRequired    = errors.New("code is required")
	ErrTitleRequired   = errors.New("title is required")
	ErrContentRequired = errors.New("content is required")
)

var (
	// ErrStore wraps every failure of the backing stores.  It is never
	// reported to a caller as a denial.
	ErrStore = errors.New("store failure")

	// ErrNotify is returned when a notifier fails at a call site whose
	// policy is required.
	ErrNotify = errors.New("notification failed")

	// ErrInvalidToken covers malformed, expired, forged and revoked
	// session tokens alike.
	ErrInvalidToken = errors.New("invalid session token")
)

// IsValidation reports whether err is one of the validation errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrSessionRequired) ||
		errors.Is(err, ErrCodeRequired) ||
		errors.Is(err, ErrTitleRequired) ||
		errors.Is(err, ErrContentRequired)
}
