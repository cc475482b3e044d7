package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"splitter/internal/amqp"
	"splitter/internal/cli"
	"splitter/internal/log"
	"splitter/internal/services"
	"splitter/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting split-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	logger = cli.SetupLogger(cfg.LogLevel, log.ComponentWorker)
	if err := cfg.RequireAMQP(); err != nil {
		logger.Error("AMQP is not configured", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(amqp.Config{
		URL:              cfg.AMQPURL,
		Exchange:         cfg.AMQPExchange,
		RequestQueue:     cfg.AMQPRequestQueue,
		ResultRoutingKey: cfg.AMQPResultRoutingKey,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	splits := services.NewSplitService(services.Options{
		MaxParticipants:  cfg.MaxParticipants,
		BatchConcurrency: cfg.BatchConcurrency,
	}, logger)
	splitWorker := worker.NewSplitWorker(splits, amqpClient, logger)

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeSplitRequests(gctx, splitWorker.HandleSplitRequest)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown requested", log.FieldOperation, log.OpShutdown)
		return amqpClient.Close()
	})

	logger.Info("Split worker running",
		"queue", cfg.AMQPRequestQueue,
		"result_routing_key", cfg.AMQPResultRoutingKey,
		"connected", amqpClient.Ready())

	err = g.Wait()
	stats := splitWorker.Stats()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, amqp.ErrClientClosed) {
		logger.Error("Split worker stopped with error", log.FieldError, err,
			"processed", stats.Processed, "rejected", stats.Rejected, "failed", stats.Failed)
		os.Exit(1)
	}
	logger.Info("Split worker stopped gracefully",
		"processed", stats.Processed,
		"duplicates", stats.Duplicate,
		"rejected", stats.Rejected,
		"failed", stats.Failed)
}
