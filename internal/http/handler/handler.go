package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/http/middleware"
	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/security"
	"github.com/tfst/carrier-portal/internal/service"
)

// requestAuth resolves the request's claims and a live CRM credential,
// writing the error response itself when either step fails.
func requestAuth(w http.ResponseWriter, r *http.Request, auth *service.AuthService) (*security.Claims, *crm.Credential, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return nil, nil, false
	}
	cred, err := auth.EnsureValidToken(r.Context(), claims.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session expired, login required", nil)
		} else {
			response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "session lookup failed", nil)
		}
		return nil, nil, false
	}
	return claims, cred, true
}

// writeShipmentError maps shipment service failures onto the API error
// vocabulary. Foreign-carrier shipments are reported as not found so the
// API does not confirm their existence.
func writeShipmentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrShipmentNotFound), errors.Is(err, service.ErrForeignShipment):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "shipment not found", nil)
	case errors.Is(err, service.ErrUpstream):
		response.Error(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream system unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "request failed", nil)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
