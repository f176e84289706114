// Package api provides the HTTP API for AQIPulse.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/api/handler"
	"github.com/aqipulse/aqipulse/internal/api/middleware"
	"github.com/aqipulse/aqipulse/internal/auth"
	"github.com/aqipulse/aqipulse/internal/forecast"
	"github.com/aqipulse/aqipulse/internal/provider/resilience"
	"github.com/aqipulse/aqipulse/internal/readings"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	AuthService     *auth.Service
	ReadingsService *readings.Service
	Trainer         *forecast.Trainer
	Forecaster      *forecast.Forecaster
	Seasonal        *forecast.Seasonal

	// JobPublisher enables async retraining when set.
	JobPublisher handler.JobPublisher

	// DB and Providers feed the readiness endpoint; both optional.
	DB        *pgxpool.Pool
	Providers *resilience.Registry

	// TrendMinPoints overrides the detector's minimum observations per
	// city when positive.
	TrendMinPoints int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aqipulse-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		DB:        cfg.DB,
		Readings:  cfg.ReadingsService,
		Providers: cfg.Providers,
	})
	cityHandler := handler.NewCityHandler(cfg.ReadingsService)
	analyticsHandler := handler.NewAnalyticsHandler(cfg.ReadingsService, cfg.TrendMinPoints)
	forecastHandler := handler.NewForecastHandler(cfg.Forecaster, cfg.Seasonal)
	trainHandler := handler.NewTrainHandler(handler.TrainConfig{
		Readings:  cfg.ReadingsService,
		Trainer:   cfg.Trainer,
		Seasonal:  cfg.Seasonal,
		Publisher: cfg.JobPublisher,
		Logger:    cfg.Logger,
	})

	// Create auth middleware
	authMiddleware := middleware.Auth(cfg.AuthService)

	// Create rate limit middleware for different endpoint categories
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			// Status endpoint requires authentication
			r.With(authMiddleware).Get("/status", opsHandler.SystemStatus)
		})

		// Readings endpoints (public) - standard rate limiting
		r.Route("/cities", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Route("/{city}", func(r chi.Router) {
				r.Get("/", cityHandler.GetCity)
				r.Get("/history", cityHandler.GetHistory)
			})
		})
		r.With(standardRateLimit).Get("/compare", cityHandler.Compare)

		// Analytics endpoints (public) - standard rate limiting
		r.With(standardRateLimit).Get("/analytics/improving", analyticsHandler.GetImproving)

		// Forecast endpoint - expensive compute, strict rate limiting
		r.With(expensiveRateLimit).Post("/forecast", forecastHandler.Forecast)

		// Admin endpoints (authenticated) - for internal operations
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireScope(auth.ScopeAdmin))
			r.Use(expensiveRateLimit)

			r.Post("/train", trainHandler.Train)
		})
	})

	return r
}
