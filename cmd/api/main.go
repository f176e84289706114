// Package main provides the entrypoint for the AQIPulse API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/api"
	"github.com/aqipulse/aqipulse/internal/api/handler"
	"github.com/aqipulse/aqipulse/internal/api/middleware"
	"github.com/aqipulse/aqipulse/internal/auth"
	"github.com/aqipulse/aqipulse/internal/database"
	"github.com/aqipulse/aqipulse/internal/forecast"
	"github.com/aqipulse/aqipulse/internal/provider/resilience"
	"github.com/aqipulse/aqipulse/internal/readings"
	"github.com/aqipulse/aqipulse/internal/readings/supabase"
	"github.com/aqipulse/aqipulse/internal/telemetry"
	"github.com/aqipulse/aqipulse/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqipulse-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting AQIPulse API")

	// Get configuration from environment
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	otlpEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Upstream source health registry, surfaced on the ops endpoints.
	providers := resilience.NewRegistry()

	// Select the readings source. A Supabase REST URL takes precedence;
	// otherwise readings come from the Postgres table directly.
	var (
		source readings.Source
		pool   *pgxpool.Pool
	)
	if supabaseURL := os.Getenv("SUPABASE_URL"); supabaseURL != "" {
		source = supabase.NewClient(supabase.ClientConfig{
			BaseURL: supabaseURL,
			APIKey:  os.Getenv("SUPABASE_API_KEY"),
			Table:   os.Getenv("SUPABASE_TABLE"),
			HTTPClient: resilience.NewClient(resilience.ClientConfig{
				Name:     supabase.ProviderName,
				Registry: providers,
			}),
		})
		log.Info().Str("url", supabaseURL).Msg("using Supabase readings source")
	} else {
		dbConfig := database.ConfigFromEnv()
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		source = readings.NewPostgresRepository(readings.PostgresConfig{Pool: pool})
	}

	readingsService := readings.NewService(readings.ServiceConfig{
		Source:   source,
		Logger:   log,
		CacheTTL: envDuration("READINGS_CACHE_TTL", 0),
	})
	log.Info().Msg("readings service initialized")

	// Forecast model stores and services
	modelPath := os.Getenv("MODEL_PATH")
	if modelPath == "" {
		modelPath = "data/model.json"
	}
	seasonalDir := os.Getenv("SEASONAL_MODEL_DIR")
	if seasonalDir == "" {
		seasonalDir = "data/seasonal"
	}

	store := forecast.NewFileStore(modelPath)
	trainer := forecast.NewTrainer(forecast.TrainerConfig{
		Store:  store,
		Logger: log,
	})
	forecaster := forecast.NewForecaster(forecast.ForecasterConfig{
		Store:  store,
		Logger: log,
	})
	seasonal := forecast.NewSeasonal(forecast.SeasonalConfig{
		Store:  forecast.NewSeasonalStore(seasonalDir),
		Logger: log,
	})
	log.Info().
		Str("model_path", modelPath).
		Str("seasonal_dir", seasonalDir).
		Msg("forecast services initialized")

	// Initialize JWT auth (get signing key from environment)
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}

	authService := auth.NewService(auth.ServiceConfig{
		SigningKey: jwtSigningKey,
		Issuer:     "https://api.aqipulse.io",
		Audience:   "aqipulse-api",
	})
	log.Info().Msg("auth service initialized")

	// Optional async retraining via Pub/Sub
	var publisher handler.JobPublisher
	if projectID := os.Getenv("PUBSUB_PROJECT_ID"); projectID != "" {
		topic := os.Getenv("PUBSUB_TOPIC")
		if topic == "" {
			topic = "aqipulse-jobs"
		}
		p, err := worker.NewPublisher(ctx, worker.PublisherConfig{
			ProjectID: projectID,
			TopicName: topic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize job publisher")
		}
		defer p.Close() //nolint:errcheck // best effort cleanup
		publisher = p
		log.Info().Str("topic", topic).Msg("job publisher initialized")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		AuthService:     authService,
		ReadingsService: readingsService,
		Trainer:         trainer,
		Forecaster:      forecaster,
		Seasonal:        seasonal,
		JobPublisher:    publisher,
		DB:              pool,
		Providers:       providers,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
