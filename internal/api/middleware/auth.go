package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/example/collab-platform/internal/auth"
	"github.com/example/collab-platform/internal/rpcerr"
)

const accessTokenCookie = "access_token"

var (
	errUnauthorized = rpcerr.NotAuthorized("unauthorized")
	errInvalidToken = rpcerr.NotAuthorized("invalid token")
	errForbidden    = rpcerr.Forbidden("admin role required")
)

func respondError(w http.ResponseWriter, err *rpcerr.Error) {
	if rpcerr.HTTPStatus(err) == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="collab"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rpcerr.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]*rpcerr.Error{"error": err})
}

type rejectedTokenKey struct{}

// ExtractToken finds the access token: cookie first, then the bearer header.
// Browsers cannot set headers on a WebSocket handshake, so upgrade requests
// may also pass ?access_token=.
func ExtractToken(r *http.Request) string {
	if c, err := r.Cookie(accessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get(accessTokenCookie)
	}
	return ""
}

// Authenticate attaches claims for a valid access token and lets every
// request through. A presented but rejected token is remembered so
// RequireUser can report it.
func Authenticate(jwt *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if claims, err := jwt.ValidateAccessToken(token); err == nil {
				ctx = auth.ContextWithClaims(ctx, claims)
			} else {
				ctx = context.WithValue(ctx, rejectedTokenKey{}, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser answers 401 unless Authenticate attached claims.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.ClaimsFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if rejected, _ := r.Context().Value(rejectedTokenKey{}).(bool); rejected {
			respondError(w, errInvalidToken)
			return
		}
		respondError(w, errUnauthorized)
	})
}

// RequireAdmin answers 403 for signed-in members. It implies RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, _ := auth.ClaimsFromContext(r.Context()); !claims.IsAdmin() {
			respondError(w, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
