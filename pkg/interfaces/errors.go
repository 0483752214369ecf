package interfaces

import "errors"

// Authentication errors shared across the interface boundary. The WebSocket
// handler maps each to a policy-violation close reason.
var (
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountDeactivated = errors.New("account is deactivated")
)
