/**
 * @description
 * This is the main entry point for the subscription-service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection, event producer, repository, services,
 * the expiry sweep scheduler, and the HTTP router. Finally, it starts the HTTP
 * server and handles graceful shutdown.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/subhub/subscription-service/internal/api"
	"github.com/subhub/subscription-service/internal/app"
	"github.com/subhub/subscription-service/internal/config"
	"github.com/subhub/subscription-service/internal/store"
	"github.com/subhub/subscription-service/pkg/rabbitmq"
	"github.com/subhub/subscription-service/pkg/retry"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up channel to listen for OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Use simple protocol so the service works behind PgBouncer transaction pooling
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Connect the event producer; fall back to a no-op publisher so broker
	// unavailability never prevents the service from starting.
	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ, subscription events will be dropped", "error", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		producer = eventProducer
		defer eventProducer.Close()
		logger.Info("rabbitmq connection established")
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	executor := retry.New(cfg.RetryMaxAttempts, time.Duration(cfg.RetryDelayMillis)*time.Millisecond, logger, store.IsRetryable)
	service := app.NewService(repository, producer, logger, executor)
	authService := app.NewAuthService(repository, logger, []byte(cfg.JWTSecret))
	handler := api.NewHandler(service, authService)
	router := api.NewRouter(handler, []byte(cfg.JWTSecret))

	// Start the expiry sweep scheduler in the background
	jobs := app.NewJobs(service, logger)
	scheduler := app.NewScheduler(jobs, logger, *cfg)
	scheduler.Start()
	logger.Info("expiry sweep scheduler started", "schedule", cfg.ExpirySweepSchedule)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	// Stop the scheduler and wait for any running sweep to finish
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped")

	// Create a context with a timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Attempt to gracefully shut down the server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
