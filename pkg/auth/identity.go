package auth

import (
	"context"
	"errors"

	"github.com/platinummonkey/tenancy/pkg/contextkeys"
)

// ErrInvalidToken is returned when a bearer token cannot be verified
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated caller as supplied by the identity provider
type Identity struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Verifier turns a raw bearer token into an Identity
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// FromContext returns the identity stored by the authentication middleware
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity, ok && identity != nil
}
