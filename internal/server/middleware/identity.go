package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	userIDKey   contextKey = "user_id"
	userRoleKey contextKey = "user_role"
)

// Identity returns middleware that extracts the caller's identity from the
// X-User-ID and X-User-Role headers set by the authenticating edge proxy and
// stores it on the request context. Requests without an identity pass
// through; handlers that require one reject them.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
				ctx = context.WithValue(ctx, userIDKey, id)
			}
			if role := strings.TrimSpace(r.Header.Get("X-User-Role")); role != "" {
				ctx = context.WithValue(ctx, userRoleKey, role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the caller's user ID from the context, or "" when the
// request carried no identity.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// UserRole returns the caller's role from the context, or "" when the
// request carried none.
func UserRole(ctx context.Context) string {
	role, _ := ctx.Value(userRoleKey).(string)
	return role
}
