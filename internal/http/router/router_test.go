package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/health"
	"github.com/tfst/carrier-portal/internal/security"
)

func newRouterTestDeps() Dependencies {
	return Dependencies{
		JWTManager:       security.NewJWTManager("carrier-portal", "carrier-portal-web", "abcdefghijklmnopqrstuvwxyz123456"),
		CORSOrigins:      []string{"http://localhost"},
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 1000,
		BulkRateLimitRPM: 1000,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, cookies []*http.Cookie, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func sessionToken(t *testing.T, jwtMgr *security.JWTManager, caps []string) string {
	t.Helper()
	token, _, err := jwtMgr.SignSessionToken(42, "CAR001", "Acme Logistics", caps, time.Hour)
	if err != nil {
		t.Fatalf("sign session token: %v", err)
	}
	return token
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	errObj, _ := env["error"].(map[string]any)
	code, _ := errObj["code"].(string)
	return code
}

func TestRouterHealthReadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		r := NewRouter(newRouterTestDeps())

		rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		dep := newRouterTestDeps()
		dep.Readiness = health.NewProbeRunner(time.Second, 0, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return errors.New("redis down") },
		})
		r := NewRouter(dep)

		rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if code := errorCode(t, rr); code != "DEPENDENCY_UNREADY" {
			t.Fatalf("expected DEPENDENCY_UNREADY, got %q", code)
		}
	})
}

func TestRouterHealthLive(t *testing.T) {
	r := NewRouter(newRouterTestDeps())

	rr := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected live response: %d %s", rr.Code, rr.Body.String())
	}
}

func TestRouterGlobalRateLimitFallback(t *testing.T) {
	dep := newRouterTestDeps()
	dep.APIRateLimitRPM = 1
	r := NewRouter(dep)

	if rr := perform(r, http.MethodGet, "/health/live", nil, nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rr.Code)
	}
	rr := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "RATE_LIMITED" {
		t.Fatalf("expected RATE_LIMITED, got %q", code)
	}
}

func TestRouterAPIRequiresSession(t *testing.T) {
	r := NewRouter(newRouterTestDeps())

	for _, path := range []string{
		"/api/v1/session",
		"/api/v1/me",
		"/api/v1/shipments/",
		"/api/v1/shipments/statuses",
		"/api/v1/dashboard/kpis",
		"/api/v1/bulk/history",
	} {
		rr := perform(r, http.MethodGet, path, nil, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
			continue
		}
		if code := errorCode(t, rr); code != "UNAUTHORIZED" {
			t.Errorf("%s: expected UNAUTHORIZED, got %q", path, code)
		}
	}
}

func TestRouterCSRFScopeOnMutations(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)
	token := sessionToken(t, dep.JWTManager, []string{domain.CapUpdateShipments, domain.CapUploadDocuments})
	headers := map[string]string{"Authorization": "Bearer " + token}

	cases := []struct {
		name string
		path string
	}{
		{"logout", "/auth/logout"},
		{"status update", "/api/v1/shipments/SHP001/status"},
		{"document upload", "/api/v1/shipments/SHP001/documents"},
		{"bulk upload", "/api/v1/bulk/upload"},
		{"bulk process", "/api/v1/bulk/process/upload-1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := perform(r, http.MethodPost, tc.path, headers, nil, "")
			if rr.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d body=%s", rr.Code, rr.Body.String())
			}
			if code := errorCode(t, rr); code != "CSRF_FAILED" {
				t.Fatalf("expected CSRF_FAILED, got %q", code)
			}
		})
	}
}

func TestRouterCapabilityGateOnMutations(t *testing.T) {
	dep := newRouterTestDeps()
	r := NewRouter(dep)
	// Valid session, valid CSRF pair, but no capabilities.
	token := sessionToken(t, dep.JWTManager, nil)
	headers := map[string]string{
		"Authorization": "Bearer " + token,
		"X-CSRF-Token":  "csrf-1",
	}
	cookies := []*http.Cookie{{Name: "csrf_token", Value: "csrf-1"}}

	for _, path := range []string{
		"/api/v1/shipments/SHP001/status",
		"/api/v1/shipments/SHP001/documents",
		"/api/v1/bulk/upload",
	} {
		rr := perform(r, http.MethodPost, path, headers, cookies, "")
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403, got %d", path, rr.Code)
			continue
		}
		if code := errorCode(t, rr); code != "FORBIDDEN" {
			t.Errorf("%s: expected FORBIDDEN, got %q", path, code)
		}
	}

	rr := perform(r, http.MethodGet, "/api/v1/dashboard/kpis", map[string]string{"Authorization": "Bearer " + token}, nil, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("dashboard without analytics capability: expected 403, got %d", rr.Code)
	}
}
