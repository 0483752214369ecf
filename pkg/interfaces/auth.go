package interfaces

import (
	"context"

	"beacon/pkg/types"
)

// CredentialVerifier resolves an opaque token to an authenticated principal.
// The hub calls it exactly once per connection attempt; implementations own
// any timeout behavior of the underlying lookup.
type CredentialVerifier interface {
	// Verify returns the principal for token, ErrInvalidToken when the token
	// resolves to no user, or ErrAccountDeactivated when the resolved
	// account is inactive.
	Verify(ctx context.Context, token string) (*types.Principal, error)
}

// UserDirectory is the persistence boundary the default verifier resolves
// tokens against.
type UserDirectory interface {
	// GetUserByToken returns the user owning token, or ErrUserNotFound.
	GetUserByToken(ctx context.Context, token string) (*types.Principal, error)

	// HealthCheck verifies the directory is reachable.
	HealthCheck(ctx context.Context) error
}
