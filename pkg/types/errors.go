package types

import "errors"

// Validation errors shared across components so callers can map them to
// user-facing messages consistently.
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole     = errors.New("invalid role: must be 'admin' or 'user'")
	ErrInvalidTopic    = errors.New("channel name must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidCategory = errors.New("invalid notification category")
)
