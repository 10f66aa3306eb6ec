// Package middleware provides the authentication and rate limiting middleware
// for the tenancy API.
//
// AuthMiddleware verifies OIDC bearer tokens through an auth.Verifier and
// stores the resulting identity in the request context:
//
//	authn := middleware.NewAuthMiddleware(verifier, logger, false)
//	router.Use(authn.Handler)
//
// Plan catalog writes and manual activation are additionally wrapped in
// RequireAdmin with the configured administrator user IDs.
//
// Rate limiting keys authenticated callers by user ID and anonymous callers
// by client IP. DistributedRateLimitMiddleware shares counters across
// instances through Redis and fails open when Redis is unreachable;
// RateLimitMiddleware keeps the counters in process memory and is used when
// no Redis address is configured.
package middleware
