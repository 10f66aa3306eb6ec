// Package auth verifies bearer tokens issued by the external identity
// provider and exposes the caller as an Identity.
//
// Tokens are OpenID Connect ID tokens. The numeric user id is read from the
// "sub" claim unless another claim is configured; "email" and "name" fill in
// the rest of the Identity.
//
//	verifier, err := auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
//		IssuerURL: "https://id.example.com",
//		ClientID:  "tenancy",
//	})
//	identity, err := verifier.Verify(ctx, rawToken)
package auth
