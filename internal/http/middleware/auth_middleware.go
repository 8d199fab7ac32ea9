package middleware

import (
	"context"
	"net/http"

	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// AuthMiddleware validates the portal session token from the cookie or the
// Authorization header and stores its claims in the request context.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := "cookie"
			if r.Header.Get("Authorization") != "" {
				source = "bearer"
			}
			raw := security.SessionTokenFromRequest(r)
			if raw == "" {
				observability.RecordSessionTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token", nil)
				return
			}
			claims, err := jwtMgr.ParseSessionToken(raw)
			if err != nil {
				observability.RecordSessionTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired session token", nil)
				return
			}
			observability.RecordSessionTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}
