package auth

import (
	"context"

	"github.com/example/collab-platform/internal/rpcerr"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type contextKey struct{}

// ContextWithClaims attaches the caller's identity to ctx.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the caller, if authenticated.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// UserID returns the caller's id or "".
func UserID(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.UserID
	}
	return ""
}

// RequireUser returns the caller or a not-authorized error.
func RequireUser(ctx context.Context) (*Claims, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil, rpcerr.NotAuthorized("login required")
	}
	return claims, nil
}

// RequireAdmin returns the caller if they are an admin.
func RequireAdmin(ctx context.Context) (*Claims, error) {
	claims, err := RequireUser(ctx)
	if err != nil {
		return nil, err
	}
	if !claims.IsAdmin() {
		return nil, rpcerr.Forbidden("admin role required")
	}
	return claims, nil
}
