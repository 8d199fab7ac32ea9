package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tfst/carrier-portal/internal/security"
)

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, _, err := jwtMgr.SignSessionToken(42, "CAR001", "Acme Freight", nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.CarrierID != "CAR001" {
			t.Fatalf("expected carrier claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidCookiePasses(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, _, err := jwtMgr.SignSessionToken(7, "CAR002", "", nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: security.SessionCookieName, Value: token})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid cookie, got %d", rr.Code)
	}
}

func TestAuthMiddlewareExpiredTokenRejected(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, _, err := jwtMgr.SignSessionToken(7, "CAR002", "", nil, -time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	h := AuthMiddleware(jwtMgr)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}
