package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile    string
	ListenAddr string
	LogLevel   string

	DatabaseURL string
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTIssuer     string
	JWTAudience   string
	SessionSecret string
	StateSecret   string
	SessionTTL    time.Duration
	StateWindow   time.Duration

	CookieSecure bool
	CookieDomain string

	SalesforceClientID     string
	SalesforceClientSecret string
	SalesforceRedirectURL  string
	SalesforceAuthURL      string
	SalesforceTokenURL     string
	SalesforceScopes       []string
	CRMRequestTimeout      time.Duration

	PortalBaseURL string
	CORSOrigins   []string

	APIRateLimitRPM  int
	AuthRateLimitRPM int
	BulkRateLimitRPM int

	BulkMaxRows            int
	UploadRetention        time.Duration
	SessionCleanupInterval time.Duration

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	EnableOTelHTTP            bool

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

// Load reads configuration from the environment, applies defaults, and
// validates the result. Validation failures carry the "validate config:"
// prefix so load errors classify cleanly.
func Load() (*Config, error) {
	cfg := &Config{
		Profile:    envOr("APP_PROFILE", "dev"),
		ListenAddr: envOr("LISTEN_ADDR", ":8080"),
		LogLevel:   envOr("LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  envOr("SQLITE_PATH", "carrier-portal.db"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTIssuer:     envOr("JWT_ISSUER", "carrier-portal"),
		JWTAudience:   envOr("JWT_AUDIENCE", "carrier-portal-api"),
		SessionSecret: os.Getenv("SESSION_SECRET"),
		StateSecret:   os.Getenv("STATE_SECRET"),

		CookieDomain: os.Getenv("COOKIE_DOMAIN"),

		SalesforceClientID:     os.Getenv("SF_CLIENT_ID"),
		SalesforceClientSecret: os.Getenv("SF_CLIENT_SECRET"),
		SalesforceRedirectURL:  os.Getenv("SF_REDIRECT_URL"),
		SalesforceAuthURL:      envOr("SF_AUTH_URL", "https://login.salesforce.com/services/oauth2/authorize"),
		SalesforceTokenURL:     envOr("SF_TOKEN_URL", "https://login.salesforce.com/services/oauth2/token"),
		SalesforceScopes:       splitList(envOr("SF_SCOPES", "api refresh_token openid")),

		PortalBaseURL: envOr("PORTAL_BASE_URL", "http://localhost:3000"),
		CORSOrigins:   splitList(envOr("CORS_ORIGINS", "http://localhost:3000")),

		OTELServiceName:          envOr("OTEL_SERVICE_NAME", "carrier-portal"),
		OTELEnvironment:          envOr("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.RedisDB, err = intEnv("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = durationEnv("SESSION_TTL", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.StateWindow, err = durationEnv("STATE_WINDOW", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CRMRequestTimeout, err = durationEnv("CRM_REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.APIRateLimitRPM, err = intEnv("API_RATE_LIMIT_RPM", 300); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimitRPM, err = intEnv("AUTH_RATE_LIMIT_RPM", 30); err != nil {
		return nil, err
	}
	if cfg.BulkRateLimitRPM, err = intEnv("BULK_RATE_LIMIT_RPM", 10); err != nil {
		return nil, err
	}
	if cfg.BulkMaxRows, err = intEnv("BULK_MAX_ROWS", 100); err != nil {
		return nil, err
	}
	if cfg.UploadRetention, err = durationEnv("UPLOAD_RETENTION", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionCleanupInterval, err = durationEnv("SESSION_CLEANUP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = durationEnv("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = durationEnv("SHUTDOWN_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = durationEnv("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownObservabilityTimeout, err = durationEnv("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	cfg.CookieSecure = boolEnv("COOKIE_SECURE", cfg.Profile != "dev")
	cfg.OTELExporterOTLPInsecure = boolEnv("OTEL_EXPORTER_OTLP_INSECURE", true)
	cfg.OTELMetricsEnabled = boolEnv("OTEL_METRICS_ENABLED", false)
	cfg.OTELTracesEnabled = boolEnv("OTEL_TRACES_ENABLED", false)
	cfg.OTELLogsEnabled = boolEnv("OTEL_LOGS_ENABLED", false)
	cfg.EnableOTelHTTP = boolEnv("OTEL_HTTP_ENABLED", false)

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.StateSecret == "" {
		missing = append(missing, "STATE_SECRET")
	}
	if c.SalesforceClientID == "" {
		missing = append(missing, "SF_CLIENT_ID")
	}
	if c.SalesforceClientSecret == "" {
		missing = append(missing, "SF_CLIENT_SECRET")
	}
	if c.SalesforceRedirectURL == "" {
		missing = append(missing, "SF_REDIRECT_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate config: missing required settings: %s", strings.Join(missing, ", "))
	}
	if len(c.SessionSecret) < 32 {
		return errors.New("validate config: SESSION_SECRET must be at least 32 bytes")
	}
	if len(c.StateSecret) < 32 {
		return errors.New("validate config: STATE_SECRET must be at least 32 bytes")
	}
	if _, err := url.Parse(c.SalesforceRedirectURL); err != nil {
		return fmt.Errorf("validate config: SF_REDIRECT_URL: %w", err)
	}
	if _, err := url.Parse(c.SalesforceAuthURL); err != nil {
		return fmt.Errorf("validate config: SF_AUTH_URL: %w", err)
	}
	if c.StateWindow <= 0 {
		return errors.New("validate config: STATE_WINDOW must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("validate config: SESSION_TTL must be positive")
	}
	if c.BulkMaxRows <= 0 {
		return errors.New("validate config: BULK_MAX_ROWS must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
