// Package main provides the entrypoint for the AQIPulse background worker.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/database"
	"github.com/aqipulse/aqipulse/internal/forecast"
	"github.com/aqipulse/aqipulse/internal/provider/resilience"
	"github.com/aqipulse/aqipulse/internal/readings"
	"github.com/aqipulse/aqipulse/internal/readings/supabase"
	"github.com/aqipulse/aqipulse/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "aqipulse-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting AQIPulse worker")

	// Worker also exposes a health endpoint for Cloud Run
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Select the readings source, mirroring the API server.
	providers := resilience.NewRegistry()
	var source readings.Source
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
		pool, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		source = readings.NewPostgresRepository(readings.PostgresConfig{Pool: pool})
		log.Info().Msg("using Postgres readings source")
	}

	readingsService := readings.NewService(readings.ServiceConfig{
		Source: source,
		Logger: log,
	})

	modelPath := os.Getenv("MODEL_PATH")
	if modelPath == "" {
		modelPath = "data/model.json"
	}
	seasonalDir := os.Getenv("SEASONAL_MODEL_DIR")
	if seasonalDir == "" {
		seasonalDir = "data/seasonal"
	}

	store := forecast.NewFileStore(modelPath)
	retrainJob := worker.NewRetrainJob(worker.RetrainJobConfig{
		Readings: readingsService,
		Trainer: forecast.NewTrainer(forecast.TrainerConfig{
			Store:  store,
			Logger: log,
		}),
		Seasonal: forecast.NewSeasonal(forecast.SeasonalConfig{
			Store:  forecast.NewSeasonalStore(seasonalDir),
			Logger: log,
		}),
		Logger: log,
	})

	// HTTP server for health checks
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	// Consume retrain jobs from Pub/Sub when configured; otherwise run on
	// a fixed interval for environments without a broker.
	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	if projectID != "" {
		subscription := os.Getenv("PUBSUB_SUBSCRIPTION")
		if subscription == "" {
			subscription = "aqipulse-jobs-worker"
		}

		pubsubHandler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        projectID,
			SubscriptionName: subscription,
			RetrainJob:       retrainJob,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize pubsub handler")
		}
		defer pubsubHandler.Close() //nolint:errcheck // best effort cleanup

		go func() {
			if err := pubsubHandler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Fatal().Err(err).Msg("pubsub handler stopped")
			}
		}()
	} else {
		interval := 6 * time.Hour
		if v := os.Getenv("RETRAIN_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				interval = d
			}
		}
		log.Info().Dur("interval", interval).Msg("no pubsub configured, retraining on a timer")

		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if _, err := retrainJob.Run(ctx); err != nil {
					log.Error().Err(err).Msg("retraining run failed")
				}
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
