package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tfst/carrier-portal/internal/config"
	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/filestore"
	"github.com/tfst/carrier-portal/internal/health"
	"github.com/tfst/carrier-portal/internal/http/handler"
	"github.com/tfst/carrier-portal/internal/http/router"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/realtime"
	"github.com/tfst/carrier-portal/internal/repository"
	"github.com/tfst/carrier-portal/internal/security"
	"github.com/tfst/carrier-portal/internal/service"
)

// Build loads configuration and assembles the full application graph.
// Construction order matters: observability first so everything after it
// logs and records through the configured providers.
func Build(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Principal{}, &domain.Session{}, &domain.UploadLog{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	principals := repository.NewPrincipalRepository(db)
	sessions := repository.NewSessionRepository(db)
	uploadLogs := repository.NewUploadLogRepository(db)

	tokens := service.NewRedisTokenStore(redisClient, "session_credential")
	// State keys outlive the verification window a little so a late replay
	// still hits the consumed marker instead of an expired key.
	states := service.NewRedisStateStore(redisClient, "login_state", cfg.StateWindow+5*time.Minute)
	tracking := realtime.NewRedisStore(redisClient, "realtime")
	files := filestore.NewRedisStore(redisClient, "files", cfg.UploadRetention)

	provider := crm.NewOAuthProvider(crm.OAuthConfig{
		ClientID:      cfg.SalesforceClientID,
		ClientSecret:  cfg.SalesforceClientSecret,
		RedirectURL:   cfg.SalesforceRedirectURL,
		AuthURL:       cfg.SalesforceAuthURL,
		TokenURL:      cfg.SalesforceTokenURL,
		Scopes:        cfg.SalesforceScopes,
		TokenValidity: cfg.SessionTTL,
	})
	crmClient := crm.NewRESTClient(cfg.CRMRequestTimeout)

	stateCodec := security.NewStateCodec(cfg.StateSecret, cfg.StateWindow)
	jwtMgr := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionSecret)
	cookies := security.NewCookieWriter(cfg.CookieSecure, cfg.CookieDomain)

	authSvc := service.NewAuthService(provider, crmClient, principals, sessions, tokens, states, stateCodec, jwtMgr, cfg.SessionTTL)
	shipmentSvc := service.NewShipmentService(crmClient, tracking, files)
	bulkSvc := service.NewBulkService(shipmentSvc, files, uploadLogs, cfg.BulkMaxRows)
	dashboardSvc := service.NewDashboardService(shipmentSvc)
	capabilities := service.NewCapabilityResolver(principals, redisClient, time.Minute)

	readiness := health.NewProbeRunner(5*time.Second, 10*time.Second,
		health.Checker{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		health.Checker{
			Name: "database",
			Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
	)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authSvc, cookies, cfg.PortalBaseURL),
		SessionHandler:     handler.NewSessionHandler(authSvc),
		ShipmentHandler:    handler.NewShipmentHandler(shipmentSvc, authSvc),
		BulkHandler:        handler.NewBulkHandler(bulkSvc, authSvc),
		DashboardHandler:   handler.NewDashboardHandler(dashboardSvc, authSvc),
		JWTManager:         jwtMgr,
		CapabilityResolver: capabilities,
		CORSOrigins:        cfg.CORSOrigins,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		BulkRateLimitRPM:   cfg.BulkRateLimitRPM,
		Readiness:          readiness,
		EnableOTelHTTP:     cfg.EnableOTelHTTP,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stop := startSessionCleanup(logger, sessions, cfg.SessionCleanupInterval)

	return New(cfg, logger, server, runtime, db, redisClient, readiness, stop), nil
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if cfg.DatabaseURL != "" {
		return gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	}
	return gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
}

// startSessionCleanup prunes expired session audit rows on a ticker and
// returns the function that stops the worker.
func startSessionCleanup(logger *slog.Logger, sessions repository.SessionRepository, interval time.Duration) func() {
	if interval <= 0 {
		interval = time.Hour
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				removed, err := sessions.CleanupExpired()
				if err != nil {
					logger.Warn("session cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("expired sessions removed", "count", removed)
				}
			}
		}
	}()
	return func() { close(done) }
}
