package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"beacon/pkg/interfaces"
	"beacon/pkg/types"
)

// Verifier is the default credential verifier: it resolves opaque API
// tokens against a user directory with a read-through cache, so repeated
// reconnects by the same client skip the database. Deactivated accounts are
// never cached; a reactivated account authenticates on its next attempt.
type Verifier struct {
	directory interfaces.UserDirectory
	mu        sync.RWMutex
	cache     map[string]*types.Principal // token -> principal
}

// NewVerifier creates a verifier over the given directory.
func NewVerifier(directory interfaces.UserDirectory) *Verifier {
	return &Verifier{
		directory: directory,
		cache:     make(map[string]*types.Principal),
	}
}

// Verify resolves token to a principal. Unknown tokens and malformed
// principals map to ErrInvalidToken; inactive accounts map to
// ErrAccountDeactivated. Directory failures are wrapped, not swallowed,
// so the caller still closes the connection attempt.
func (v *Verifier) Verify(ctx context.Context, token string) (*types.Principal, error) {
	if token == "" {
		return nil, interfaces.ErrInvalidToken
	}

	v.mu.RLock()
	principal, ok := v.cache[token]
	v.mu.RUnlock()
	if ok {
		return principal, nil
	}

	principal, err := v.directory.GetUserByToken(ctx, token)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, interfaces.ErrInvalidToken
		}
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	if err := principal.Validate(); err != nil {
		return nil, interfaces.ErrInvalidToken
	}

	if !principal.Active {
		return nil, interfaces.ErrAccountDeactivated
	}

	v.mu.Lock()
	v.cache[token] = principal
	v.mu.Unlock()

	return principal, nil
}

// Invalidate drops a cached token, forcing the next Verify through the
// directory. Call when a token is revoked or an account is deactivated.
func (v *Verifier) Invalidate(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, token)
}
