package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/deplai/api/pkg/apierror"
	"github.com/deplai/api/pkg/logger"
)

// Auth-related context keys - use logger.ContextKey for consistency.
const (
	UserIDKey = logger.ContextKeyUserID
)

// UserResolver resolves a bearer token to a user id. Session management
// itself lives outside this service; the API only needs the lookup.
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (string, error)
}

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// MustGetUserID extracts the user ID from context or panics if not found.
// Use this in handlers protected by Auth middleware.
// Panics indicate a programming error (missing middleware), not a user error.
func MustGetUserID(ctx context.Context) string {
	userID := GetUserID(ctx)
	if userID == "" {
		panic("MustGetUserID: user ID not found in context - ensure Auth middleware is applied")
	}
	return userID
}

// Auth authenticates requests with a bearer token and stores the resolved
// user id in the request context.
func Auth(resolver UserResolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				apierror.Unauthorized("Missing bearer token").WriteJSON(w)
				return
			}

			userID, err := resolver.ResolveUser(r.Context(), token)
			if err != nil || userID == "" {
				log.Warn("token resolution failed",
					"request_id", GetRequestID(r.Context()),
					"path", r.URL.Path,
				)
				apierror.Unauthorized("Invalid or expired token").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
