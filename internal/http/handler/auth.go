package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tfst/carrier-portal/internal/http/middleware"
	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/security"
	"github.com/tfst/carrier-portal/internal/service"
)

// AuthHandler drives the browser-facing OAuth legs. Outcomes, good or bad,
// are delivered as redirects back into the portal frontend; the JSON error
// envelope is reserved for the API surface.
type AuthHandler struct {
	auth          *service.AuthService
	cookies       *security.CookieWriter
	portalBaseURL string
	now           func() time.Time
}

func NewAuthHandler(auth *service.AuthService, cookies *security.CookieWriter, portalBaseURL string) *AuthHandler {
	return &AuthHandler{
		auth:          auth,
		cookies:       cookies,
		portalBaseURL: portalBaseURL,
		now:           time.Now,
	}
}

// Login redirects the browser to the identity provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	url, err := h.auth.BeginLogin(r.Context())
	if err != nil {
		observability.Audit(r, "login_begin_failed")
		http.Redirect(w, r, h.loginErrorURL("server_error"), http.StatusFound)
		return
	}
	observability.Audit(r, "login_begin")
	http.Redirect(w, r, url, http.StatusFound)
}

// Callback finishes the authorization-code exchange and establishes the
// portal session cookie.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.auth.CompleteLogin(
		r.Context(),
		q.Get("code"),
		q.Get("state"),
		q.Get("error"),
		r.UserAgent(),
		r.RemoteAddr,
	)
	if err != nil {
		code := callbackErrorCode(err)
		observability.Audit(r, "login_failed", "reason", code)
		http.Redirect(w, r, h.loginErrorURL(code), http.StatusFound)
		return
	}

	ttl := result.ExpiresAt.Sub(h.now())
	h.cookies.WriteSession(w, result.Token, ttl)
	h.cookies.WriteCSRF(w, uuid.NewString(), ttl)
	observability.Audit(r, "login_success",
		"principal_id", result.Principal.ID, "carrier_id", result.Principal.CarrierID)
	http.Redirect(w, r, h.portalBaseURL+"/dashboard", http.StatusFound)
}

// Logout tears the session down. Requires an authenticated request.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	if err := h.auth.Logout(r.Context(), claims.ID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "logout failed", nil)
		return
	}
	h.cookies.ClearSession(w)
	observability.Audit(r, "logout", "carrier_id", claims.CarrierID)
	response.JSON(w, r, http.StatusOK, map[string]bool{"logged_out": true})
}

func (h *AuthHandler) loginErrorURL(code string) string {
	return h.portalBaseURL + "/login?error=" + code
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, service.ErrProviderDenied):
		return "access_denied"
	case errors.Is(err, service.ErrMissingCode):
		return "missing_code"
	case errors.Is(err, service.ErrTokenExchangeFailed):
		return "exchange_failed"
	case errors.Is(err, service.ErrIdentityFetchFailed):
		return "identity_failed"
	case errors.Is(err, service.ErrCarrierNotFound):
		return "no_carrier"
	case errors.Is(err, service.ErrCarrierInactive):
		return "carrier_inactive"
	case errors.Is(err, service.ErrPortalAccountInactive):
		return "account_inactive"
	default:
		return "server_error"
	}
}
