package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodingButter/braidarr/internal/service"
	"github.com/CodingButter/braidarr/pkg/health"
	"github.com/CodingButter/braidarr/pkg/middleware"
)

// RouterDeps holds everything the router wires together.
type RouterDeps struct {
	AuthService   *service.AuthService
	APIKeyService *service.APIKeyService
	AuthGuard     *AuthGuard
	APIKeyGuard   *APIKeyGuard
	CsrfGuard     *CsrfGuard
	RateLimiter   *RateLimiter
	Health        *health.Handler
	Logger        *slog.Logger
}

// NewRouter creates a chi router with all routes registered.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.PrometheusMetrics("braidarr"))
	r.Use(deps.RateLimiter.Global())
	r.Use(deps.CsrfGuard.Middleware)

	// Operational endpoints
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		promhttp.Handler().ServeHTTP(w, req)
	})

	r.Get("/api/v1/csrf-token", deps.CsrfGuard.IssueToken)

	authHandler := NewAuthHandler(deps.AuthService, deps.Logger)

	// Public auth endpoints, each under its own rate limit policy.
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Auth())
		r.Post("/api/v1/auth/register", authHandler.Register)
		r.Post("/api/v1/auth/login", authHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Refresh())
		r.Post("/api/v1/auth/refresh", authHandler.Refresh)
	})

	// Bearer-authenticated endpoints
	keyHandler := NewAPIKeyHandler(deps.APIKeyService, deps.Logger)
	r.Group(func(r chi.Router) {
		r.Use(deps.AuthGuard.Require)

		r.Post("/api/v1/auth/logout", authHandler.Logout)
		r.Post("/api/v1/auth/logout-all", authHandler.LogoutAll)
		r.Post("/api/v1/auth/change-password", authHandler.ChangePassword)
		r.Get("/api/v1/auth/me", authHandler.Me)

		r.Post("/api/v1/api-keys", keyHandler.Create)
		r.Get("/api/v1/api-keys", keyHandler.List)
		r.Delete("/api/v1/api-keys/{id}", keyHandler.Delete)
	})

	// API-key-authenticated integration surface
	integration := NewIntegrationHandler(deps.Logger)
	r.Route("/api/v1/integration", func(r chi.Router) {
		r.Use(deps.APIKeyGuard.Require)

		for _, resource := range []string{"lists", "servers", "libraries", "media"} {
			resource := resource
			r.With(deps.APIKeyGuard.RequirePermission(resource, "read")).
				Get("/"+resource, integration.Resource(resource))
			r.With(deps.APIKeyGuard.RequirePermission(resource, "write")).
				Post("/"+resource, integration.Resource(resource))
			r.With(deps.APIKeyGuard.RequirePermission(resource, "delete")).
				Delete("/"+resource, integration.Resource(resource))
		}
	})

	return r
}
