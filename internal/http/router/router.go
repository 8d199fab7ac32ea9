package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/health"
	"github.com/tfst/carrier-portal/internal/http/handler"
	"github.com/tfst/carrier-portal/internal/http/middleware"
	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/security"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	SessionHandler   *handler.SessionHandler
	ShipmentHandler  *handler.ShipmentHandler
	BulkHandler      *handler.BulkHandler
	DashboardHandler *handler.DashboardHandler

	JWTManager         *security.JWTManager
	CapabilityResolver middleware.CapabilityResolver

	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	BulkRateLimitRPM int

	// Optional overrides, mainly for tests.
	GlobalRateLimiter func(http.Handler) http.Handler
	AuthRateLimiter   func(http.Handler) http.Handler
	BulkRateLimiter   func(http.Handler) http.Handler

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(12 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiterWithKey(dep.APIRateLimitRPM, time.Minute, middleware.SubjectOrIPKeyFunc(dep.JWTManager)).WithScope("api").Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).WithScope("auth").Middleware()
	}
	bulkLimiter := dep.BulkRateLimiter
	if bulkLimiter == nil {
		bulkLimiter = middleware.NewRateLimiterWithKey(dep.BulkRateLimitRPM, time.Minute, middleware.SubjectOrIPKeyFunc(dep.JWTManager)).WithScope("bulk").Middleware()
	}

	authed := middleware.AuthMiddleware(dep.JWTManager)
	canUpdate := middleware.RequireCapability(dep.CapabilityResolver, domain.CapUpdateShipments)
	canUpload := middleware.RequireCapability(dep.CapabilityResolver, domain.CapUploadDocuments)
	canAnalytics := middleware.RequireCapability(dep.CapabilityResolver, domain.CapViewAnalytics)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimiter).Get("/login", dep.AuthHandler.Login)
		r.With(authLimiter).Get("/callback", dep.AuthHandler.Callback)
		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.Use(middleware.CSRFMiddleware)
			r.Post("/logout", dep.AuthHandler.Logout)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authed)

		r.Get("/session", dep.SessionHandler.Session)
		r.Get("/me", dep.SessionHandler.Me)

		r.Route("/shipments", func(r chi.Router) {
			r.Get("/", dep.ShipmentHandler.List)
			r.Get("/statuses", dep.ShipmentHandler.Statuses)
			r.Get("/search", dep.ShipmentHandler.List)
			r.Get("/{key}", dep.ShipmentHandler.Get)
			r.Get("/{key}/history", dep.ShipmentHandler.History)
			r.Get("/{key}/documents", dep.ShipmentHandler.ListDocuments)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(canUpdate).Post("/{key}/status", dep.ShipmentHandler.UpdateStatus)
				r.With(canUpload).Post("/{key}/documents", dep.ShipmentHandler.UploadDocument)
			})
		})

		r.With(canAnalytics).Get("/dashboard/kpis", dep.DashboardHandler.KPIs)

		r.Route("/bulk", func(r chi.Router) {
			r.Get("/history", dep.BulkHandler.History)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.Use(bulkLimiter)
				r.Use(canUpdate)
				r.Post("/upload", dep.BulkHandler.Upload)
				r.Post("/process/{id}", dep.BulkHandler.Process)
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
