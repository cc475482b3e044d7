package main

import (
	"context"
	"net/http"
	"os"

	"splitter/internal/cli"
	apphttp "splitter/internal/http"
	"splitter/internal/log"
	"splitter/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, log.ComponentApp)

	splits := services.NewSplitService(services.Options{
		MaxParticipants:  cfg.MaxParticipants,
		BatchConcurrency: cfg.BatchConcurrency,
	}, logger)

	srv, err := apphttp.NewServer(":"+cfg.Port, splits, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger,
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	})

	logger.Info("Starting splitter server",
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"max_participants", cfg.MaxParticipants,
		"rate_limit_per_minute", cfg.RateLimitPerMinute)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-done
	stats := splits.Stats()
	logger.Info("Server stopped gracefully",
		"previews", stats.Previews,
		"validations", stats.Validations,
		"problems", stats.Problems)
}
