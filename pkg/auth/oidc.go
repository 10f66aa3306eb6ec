package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCConfig configures ID token verification
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
	// UserIDClaim names the numeric user id claim. Empty means "sub".
	UserIDClaim     string
	SkipIssuerCheck bool
}

// OIDCVerifier verifies OpenID Connect ID tokens
type OIDCVerifier struct {
	verifier    *oidc.IDTokenVerifier
	userIDClaim string
}

// NewOIDCVerifier discovers the issuer and builds a verifier for its keys
func NewOIDCVerifier(ctx context.Context, config OIDCConfig) (*OIDCVerifier, error) {
	if config.IssuerURL == "" || config.ClientID == "" {
		return nil, fmt.Errorf("OIDC issuer URL and client ID are required")
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return newOIDCVerifier(provider.Verifier(&oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	}), config.UserIDClaim), nil
}

// NewOIDCVerifierWithKeySet builds a verifier against a fixed key set
func NewOIDCVerifierWithKeySet(config OIDCConfig, keySet oidc.KeySet) *OIDCVerifier {
	return newOIDCVerifier(oidc.NewVerifier(config.IssuerURL, keySet, &oidc.Config{
		ClientID:        config.ClientID,
		SkipIssuerCheck: config.SkipIssuerCheck,
	}), config.UserIDClaim)
}

func newOIDCVerifier(verifier *oidc.IDTokenVerifier, userIDClaim string) *OIDCVerifier {
	if userIDClaim == "" {
		userIDClaim = "sub"
	}
	return &OIDCVerifier{verifier: verifier, userIDClaim: userIDClaim}
}

// Verify checks the token signature, issuer, audience and expiry
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims map[string]interface{}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}

	id, err := numericClaim(claims[v.userIDClaim])
	if err != nil {
		return nil, fmt.Errorf("%w: claim %q: %v", ErrInvalidToken, v.userIDClaim, err)
	}

	identity := &Identity{ID: id}
	identity.Email, _ = claims["email"].(string)
	identity.FullName, _ = claims["name"].(string)
	return identity, nil
}

func numericClaim(v interface{}) (int64, error) {
	var id int64
	switch value := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not a numeric user id")
		}
		id = parsed
	case float64:
		id = int64(value)
	default:
		return 0, fmt.Errorf("missing")
	}
	if id <= 0 {
		return 0, fmt.Errorf("user id must be positive")
	}
	return id, nil
}
