package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/contextkeys"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// AuthMiddleware verifies bearer tokens and stores the caller's identity in the request context
type AuthMiddleware struct {
	verifier auth.Verifier
	logger   *observability.Logger
	optional bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier auth.Verifier, logger *observability.Logger, optional bool) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		identity, err := m.verifier.Verify(r.Context(), parts[1])
		if err != nil {
			m.logger.WithError(err).Debug("token verification failed")
			httputil.WriteUnauthorized(w, auth.ErrInvalidToken.Error())
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID returns the authenticated user ID, or false for anonymous requests
func CallerID(r *http.Request) (int64, bool) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		return 0, false
	}
	return identity.ID, true
}

// RequireAdmin limits a route to the configured platform administrators.
// Plan catalog writes and manual activation sit behind it.
func RequireAdmin(adminIDs []int64) func(http.Handler) http.Handler {
	admins := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := CallerID(r)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if _, ok := admins[id]; !ok {
				httputil.WriteForbidden(w, "administrator role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
