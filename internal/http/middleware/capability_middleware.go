package middleware

import (
	"context"
	"net/http"

	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/security"
)

// CapabilityResolver re-reads effective capabilities for the claims'
// principal, so CRM-side permission flips apply before the session expires.
type CapabilityResolver interface {
	ResolveCapabilities(ctx context.Context, claims *security.Claims) ([]string, error)
}

// RequireCapability gates a route on one capability. When a resolver is
// configured it is authoritative; otherwise the claims embedded at login
// time decide.
func RequireCapability(resolver CapabilityResolver, capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			caps := claims.Capabilities
			if resolver != nil {
				resolved, err := resolver.ResolveCapabilities(r.Context(), claims)
				if err != nil {
					observability.RecordCapabilityCacheEvent(r.Context(), "resolve_error")
					response.Error(w, r, http.StatusServiceUnavailable, "CAPABILITIES_UNAVAILABLE", "capability resolution unavailable", nil)
					return
				}
				caps = resolved
			}
			if !hasCapability(caps, capability) {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permission", map[string]string{"required": capability})
				return
			}
			observability.RecordCapabilityCacheEvent(r.Context(), "allowed")
			next.ServeHTTP(w, r)
		})
	}
}

func hasCapability(caps []string, capability string) bool {
	for _, c := range caps {
		if c == capability {
			return true
		}
	}
	return false
}
