package security

import (
	"net/http"
	"time"
)

// SessionCookieName is the browser-facing carrier of the signed session
// token. HttpOnly and SameSite=Lax; Secure is flipped on outside local dev.
const SessionCookieName = "portal_session"

// CSRFTokenCookieName mirrors the middleware's double-submit cookie name.
const CSRFTokenCookieName = "csrf_token"

type CookieWriter struct {
	secure bool
	domain string
}

func NewCookieWriter(secure bool, domain string) *CookieWriter {
	return &CookieWriter{secure: secure, domain: domain}
}

func (w *CookieWriter) WriteSession(rw http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(rw, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   w.domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// WriteCSRF issues the double-submit cookie. Deliberately not HttpOnly:
// the frontend reads it and mirrors the value into X-CSRF-Token.
func (w *CookieWriter) WriteCSRF(rw http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(rw, &http.Cookie{
		Name:     CSRFTokenCookieName,
		Value:    token,
		Path:     "/",
		Domain:   w.domain,
		MaxAge:   int(ttl.Seconds()),
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (w *CookieWriter) ClearSession(rw http.ResponseWriter) {
	for _, name := range []string{SessionCookieName, CSRFTokenCookieName} {
		http.SetCookie(rw, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   w.domain,
			MaxAge:   -1,
			HttpOnly: name == SessionCookieName,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// SessionTokenFromRequest pulls the raw session token, preferring the
// Authorization header (API clients) over the cookie (browser flow).
func SessionTokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
