// Package handler provides the HTTP API of Vidsnag.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/vidsnag/internal/auth"
	"github.com/prn-tf/vidsnag/internal/metrics"
	"github.com/prn-tf/vidsnag/internal/repository"
	"github.com/prn-tf/vidsnag/internal/service"
)

// Router wires handlers and middleware onto a chi mux.
type Router struct {
	authHandler     *AuthHandler
	downloadHandler *DownloadHandler
	adminHandler    *AdminHandler
	healthHandler   *HealthHandler
	authMiddleware  func(http.Handler) http.Handler
	rateLimit       func(http.Handler) http.Handler
	metrics         *metrics.Metrics
	metricsPath     string
	logger          zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	UserService     *service.UserService
	SessionService  *service.SessionService
	DownloadService *service.DownloadService

	Auth        auth.Config
	MaxBodySize int64

	// Health is pinged by /health. Optional.
	Health HealthChecker
	// Version is reported by /health.
	Version string

	// RateLimitCache enables rate limiting of /api when set.
	RateLimitCache repository.Cache
	RateLimit      RateLimitConfig

	// Metrics is optional. MetricsPath defaults to /metrics.
	Metrics     *metrics.Metrics
	MetricsPath string

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	logger := config.Logger.With().Str("component", "router").Logger()

	rt := &Router{
		authHandler:     NewAuthHandler(config.SessionService, config.Auth, config.MaxBodySize, config.Logger),
		downloadHandler: NewDownloadHandler(config.DownloadService, config.MaxBodySize, config.Logger),
		adminHandler:    NewAdminHandler(config.UserService, config.MaxBodySize, config.Logger),
		healthHandler:   NewHealthHandler(config.Health, config.Version, config.Logger),
		authMiddleware:  auth.Middleware(config.SessionService, config.Auth),
		metrics:         config.Metrics,
		metricsPath:     config.MetricsPath,
		logger:          logger,
	}
	if rt.metricsPath == "" {
		rt.metricsPath = "/metrics"
	}
	if config.RateLimitCache != nil && config.RateLimit.Requests > 0 && config.RateLimit.Window > 0 {
		rt.rateLimit = RateLimit(config.RateLimitCache, config.RateLimit, config.Metrics, logger)
	}
	return rt
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, middleware.RealIP, RequestLogger(rt.logger, rt.metrics), middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Message: "Method not allowed"})
	})

	r.Get("/health", rt.healthHandler.Health)
	if rt.metrics != nil {
		r.Method(http.MethodGet, rt.metricsPath, rt.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if rt.rateLimit != nil {
			r.Use(rt.rateLimit)
		}

		r.Post("/login", rt.authHandler.Login)
		r.Post("/logout", rt.authHandler.Logout)
		r.Get("/me", rt.authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(rt.authMiddleware)

			r.Post("/analyze", rt.downloadHandler.Analyze)
			r.Get("/history", rt.downloadHandler.History)

			r.Route("/admin/users", func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/", rt.adminHandler.ListUsers)
				r.Post("/", rt.adminHandler.CreateUser)
				r.Patch("/{id}", rt.adminHandler.UpdateUser)
				r.Delete("/{id}", rt.adminHandler.DeleteUser)
			})
		})
	})

	return r
}
