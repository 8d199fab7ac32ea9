package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/filestore"
	"github.com/tfst/carrier-portal/internal/http/handler"
	"github.com/tfst/carrier-portal/internal/http/router"
	"github.com/tfst/carrier-portal/internal/realtime"
	"github.com/tfst/carrier-portal/internal/repository"
	"github.com/tfst/carrier-portal/internal/security"
	"github.com/tfst/carrier-portal/internal/service"
)

const portalBaseURL = "http://portal.local"

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// stubProvider is an in-process stand-in for the CRM identity endpoints.
type stubProvider struct {
	mu          sync.Mutex
	exchangeErr error
	exchanges   int
	refreshes   int
}

func (p *stubProvider) AuthCodeURL(state string) string {
	return "https://crm.example/authorize?state=" + url.QueryEscape(state)
}

func (p *stubProvider) Exchange(ctx context.Context, code string) (*crm.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges++
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	now := time.Now().UTC()
	return &crm.Credential{
		AccessToken: "access-" + code,
		InstanceURL: "https://crm.example",
		IssuedAt:    now,
		ExpiresAt:   now.Add(2 * time.Hour),
	}, nil
}

func (p *stubProvider) Refresh(ctx context.Context, refreshToken string) (*crm.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	now := time.Now().UTC()
	return &crm.Credential{
		AccessToken:  "refreshed-access",
		RefreshToken: refreshToken,
		InstanceURL:  "https://crm.example",
		IssuedAt:     now,
		ExpiresAt:    now.Add(2 * time.Hour),
	}, nil
}

// stubCRM is an in-memory CRM instance seeded per test.
type stubCRM struct {
	mu            sync.Mutex
	user          crm.UserInfo
	carrier       *crm.Carrier
	shipments     []crm.Shipment
	stages        map[string][]crm.Stage
	statusUpdates map[string][]crm.StatusUpdate
	events        []crm.TrackingEvent
}

func newStubCRM(carrier *crm.Carrier, shipments []crm.Shipment) *stubCRM {
	return &stubCRM{
		user:          crm.UserInfo{UserID: "005IDP", Email: "dispatch@acme.example", Name: "Dispatch Desk"},
		carrier:       carrier,
		shipments:     shipments,
		stages:        map[string][]crm.Stage{},
		statusUpdates: map[string][]crm.StatusUpdate{},
	}
}

func (c *stubCRM) FetchUserInfo(ctx context.Context, cred *crm.Credential) (*crm.UserInfo, error) {
	u := c.user
	return &u, nil
}

func (c *stubCRM) FindCarrierForUser(ctx context.Context, cred *crm.Credential, userID string) (*crm.Carrier, error) {
	if c.carrier == nil {
		return nil, crm.ErrCarrierNotFound
	}
	carrier := *c.carrier
	return &carrier, nil
}

func (c *stubCRM) ListCarrierShipments(ctx context.Context, cred *crm.Credential, carrierID string, limit int) ([]crm.Shipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []crm.Shipment
	for _, s := range c.shipments {
		if s.CarrierID == carrierID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *stubCRM) GetShipment(ctx context.Context, cred *crm.Credential, key string) (*crm.Shipment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.shipments {
		if s.ID == key || s.Name == key {
			found := s
			return &found, nil
		}
	}
	return nil, crm.ErrShipmentNotFound
}

func (c *stubCRM) ListShipmentStages(ctx context.Context, cred *crm.Credential, shipmentID string) ([]crm.Stage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stages[shipmentID], nil
}

func (c *stubCRM) UpdateShipmentStatus(ctx context.Context, cred *crm.Credential, key string, update crm.StatusUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.shipments {
		if s.ID == key || s.Name == key {
			c.shipments[i].Status = update.Status
			c.statusUpdates[s.ID] = append(c.statusUpdates[s.ID], update)
			return nil
		}
	}
	return crm.ErrShipmentNotFound
}

func (c *stubCRM) CreateTrackingEvent(ctx context.Context, cred *crm.Credential, event crm.TrackingEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *stubCRM) statusOf(t *testing.T, id string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.shipments {
		if s.ID == id {
			return s.Status
		}
	}
	t.Fatalf("shipment %s not seeded", id)
	return ""
}

type portalTestOptions struct {
	carrier   *crm.Carrier
	shipments []crm.Shipment
	provider  *stubProvider
}

type portalTestEnv struct {
	crm   *stubCRM
	redis *miniredis.Miniredis
}

func defaultCarrier() *crm.Carrier {
	return &crm.Carrier{
		ID:                 "CAR001",
		Name:               "Acme Logistics",
		IsActive:           true,
		CanUpdateShipments: true,
		CanUploadDocuments: true,
		CanViewAnalytics:   true,
	}
}

func defaultShipments() []crm.Shipment {
	return []crm.Shipment{
		{ID: "SHP001", Name: "LOAD-001", CarrierID: "CAR001", Status: "Dispatched"},
		{ID: "SHP002", Name: "LOAD-002", CarrierID: "CAR001", Status: "In Transit"},
		{ID: "SHP900", Name: "LOAD-900", CarrierID: "CAR999", Status: "Dispatched"},
	}
}

func newPortalTestServer(t *testing.T, opts portalTestOptions) (string, *http.Client, *portalTestEnv, func()) {
	t.Helper()

	if opts.carrier == nil {
		opts.carrier = defaultCarrier()
	}
	if opts.shipments == nil {
		opts.shipments = defaultShipments()
	}
	if opts.provider == nil {
		opts.provider = &stubProvider{}
	}

	server := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Principal{}, &domain.Session{}, &domain.UploadLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	principals := repository.NewPrincipalRepository(db)
	sessions := repository.NewSessionRepository(db)
	uploadLogs := repository.NewUploadLogRepository(db)

	tokens := service.NewRedisTokenStore(redisClient, "session_credential_it")
	states := service.NewRedisStateStore(redisClient, "login_state_it", 15*time.Minute)
	tracking := realtime.NewRedisStore(redisClient, "realtime_it")
	files := filestore.NewRedisStore(redisClient, "files_it", time.Hour)

	stateCodec := security.NewStateCodec("integration-state-secret-32bytes!", 10*time.Minute)
	jwtMgr := security.NewJWTManager("carrier-portal", "carrier-portal-web", "integration-session-secret-32byte")
	cookies := security.NewCookieWriter(false, "")

	crmStub := newStubCRM(opts.carrier, opts.shipments)

	authSvc := service.NewAuthService(opts.provider, crmStub, principals, sessions, tokens, states, stateCodec, jwtMgr, 2*time.Hour)
	shipmentSvc := service.NewShipmentService(crmStub, tracking, files)
	bulkSvc := service.NewBulkService(shipmentSvc, files, uploadLogs, 100)
	dashboardSvc := service.NewDashboardService(shipmentSvc)
	capabilities := service.NewCapabilityResolver(principals, redisClient, time.Minute)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authSvc, cookies, portalBaseURL),
		SessionHandler:     handler.NewSessionHandler(authSvc),
		ShipmentHandler:    handler.NewShipmentHandler(shipmentSvc, authSvc),
		BulkHandler:        handler.NewBulkHandler(bulkSvc, authSvc),
		DashboardHandler:   handler.NewDashboardHandler(dashboardSvc, authSvc),
		JWTManager:         jwtMgr,
		CapabilityResolver: capabilities,
		CORSOrigins:        []string{portalBaseURL},
		APIRateLimitRPM:    10000,
		AuthRateLimitRPM:   10000,
		BulkRateLimitRPM:   10000,
	})

	ts := httptest.NewServer(h)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	env := &portalTestEnv{crm: crmStub, redis: server}
	return ts.URL, client, env, ts.Close
}

func newAuthTestServer(t *testing.T) (string, *http.Client, func()) {
	t.Helper()
	baseURL, client, _, closeFn := newPortalTestServer(t, portalTestOptions{})
	return baseURL, client, closeFn
}

func doJSON(t *testing.T, client *http.Client, method, target string, headers map[string]string, body io.Reader) (*http.Response, apiEnvelope) {
	t.Helper()
	req, err := http.NewRequest(method, target, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope for %s %s: %v", method, target, err)
	}
	return resp, env
}

// loginSession walks the full browser flow and returns the CSRF token the
// callback issued; the session cookie lands in the client's jar.
func loginSession(t *testing.T, client *http.Client, baseURL string) string {
	t.Helper()

	resp, err := client.Get(baseURL + "/auth/login")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("login expected 302, got %d", resp.StatusCode)
	}
	authorize, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse authorize URL: %v", err)
	}
	state := authorize.Query().Get("state")
	if state == "" {
		t.Fatal("authorize URL is missing state")
	}

	resp, err = client.Get(baseURL + "/auth/callback?code=good-code&state=" + url.QueryEscape(state))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != portalBaseURL+"/dashboard" {
		t.Fatalf("callback redirected to %q", loc)
	}

	var csrf string
	for _, c := range resp.Cookies() {
		if c.Name == "csrf_token" {
			csrf = c.Value
		}
	}
	if csrf == "" {
		t.Fatal("callback did not issue a csrf cookie")
	}
	return csrf
}
