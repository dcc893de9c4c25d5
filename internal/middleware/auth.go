// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lead-fleet/internal/auth"
	"github.com/capitalize-ai/lead-fleet/pkg/logger"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// EmailKey is the context key for the caller's e-mail.
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the caller's role.
	RoleKey ContextKey = "role"
)

// AuthCookie carries the identity token for browser viewers.
const AuthCookie = "auth_token"

// Auth creates JWT authentication middleware. Callers with no role are
// rejected.
func Auth(issuer *auth.Issuer, roles auth.RoleResolver, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing authorization"}`, http.StatusUnauthorized)
				return
			}

			email, err := issuer.Verify(tokenString)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			role, err := roles.ResolveRole(r.Context(), email)
			if err != nil {
				log.Error("failed to resolve role", zap.String("email", email), zap.Error(err))
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
				return
			}
			if role == auth.RoleNone {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), EmailKey, email)
			ctx = context.WithValue(ctx, RoleKey, role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the token from the Authorization header, falling back
// to the auth cookie.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		return parts[1], parts[1] != ""
	}
	if c, err := r.Cookie(AuthCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// GetEmail gets the caller's e-mail from context.
func GetEmail(ctx context.Context) string {
	if v, ok := ctx.Value(EmailKey).(string); ok {
		return v
	}
	return ""
}

// GetRole gets the caller's role from context.
func GetRole(ctx context.Context) auth.Role {
	if v, ok := ctx.Value(RoleKey).(auth.Role); ok {
		return v
	}
	return auth.RoleNone
}

// RequireRole creates middleware that requires at least the given role.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !GetRole(r.Context()).Allows(role) {
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
