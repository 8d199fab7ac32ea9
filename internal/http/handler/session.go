package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tfst/carrier-portal/internal/http/middleware"
	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/service"
)

// SessionHandler exposes the session verification views.
type SessionHandler struct {
	auth *service.AuthService
}

func NewSessionHandler(auth *service.AuthService) *SessionHandler {
	return &SessionHandler{auth: auth}
}

type sessionView struct {
	Authenticated  bool      `json:"authenticated"`
	CarrierID      string    `json:"carrier_id"`
	CarrierName    string    `json:"carrier_name"`
	Capabilities   []string  `json:"capabilities"`
	ExpiresAt      time.Time `json:"expires_at"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// Session reports the state of the calling session without refreshing the
// underlying CRM credential.
func (h *SessionHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	cred, err := h.auth.CredentialInfo(r.Context(), claims.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionExpired) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session expired, login required", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "session lookup failed", nil)
		return
	}
	view := sessionView{
		Authenticated:  true,
		CarrierID:      claims.CarrierID,
		CarrierName:    claims.CarrierName,
		Capabilities:   claims.Capabilities,
		ExpiresAt:      claims.ExpiresAt.Time,
		TokenExpiresAt: cred.ExpiresAt,
	}
	if view.Capabilities == nil {
		view.Capabilities = []string{}
	}
	response.JSON(w, r, http.StatusOK, view)
}

// Me returns the stored principal record for the calling session.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "malformed session subject", nil)
		return
	}
	principal, err := h.auth.Principal(uint(id))
	if err != nil {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "principal not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, principal)
}
