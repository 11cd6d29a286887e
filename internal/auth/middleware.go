package auth

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is unexported so no other package can read or overwrite the
// identity stored under it.
type contextKey string

const identityKey contextKey = "identity"

// OptionalAuth attaches the caller's Identity to the request context when a
// valid token is present. It never rejects a request: a missing, expired or
// forged token just leaves the request anonymous.
//
// A nil TokenService (no JWT_SECRET configured) turns the middleware into a
// pass-through.
//
// WHERE THE TOKEN COMES FROM (first match wins):
//  1. the "token" cookie set by the profile service
//  2. an "Authorization: Bearer <jwt>" header
//  3. a "token" query parameter, because browsers cannot set headers on a
//     WebSocket handshake
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokens != nil {
				if raw := tokenFromRequest(r); raw != "" {
					if id, err := tokens.Validate(raw); err == nil {
						r = r.WithContext(WithIdentity(r.Context(), id))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller's identity, or false for an
// anonymous request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
