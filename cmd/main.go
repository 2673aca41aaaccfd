/**
 * @description
 * Main entry point for the entitlement service. Initializes and wires
 * together configuration, the database pool, optional Redis and RabbitMQ
 * collaborators, the payment provider client, the application services, the
 * cron scheduler and the HTTP router, then runs the server until shutdown.
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
	"github.com/redis/go-redis/v9"

	"github.com/tradelab/entitlement-service/internal/api"
	"github.com/tradelab/entitlement-service/internal/app"
	"github.com/tradelab/entitlement-service/internal/config"
	"github.com/tradelab/entitlement-service/internal/store"
	"github.com/tradelab/entitlement-service/pkg/paymentclient"
	"github.com/tradelab/entitlement-service/pkg/rabbitmq"
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

	// Use simple protocol so the pool works behind PgBouncer transaction pooling.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// Optional event publisher
	var publisher app.EventPublisher
	if cfg.AMQPURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.AMQPURL)
		if err != nil {
			logger.Error("unable to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		publisher = producer
		logger.Info("event producer connected")
	}

	// Optional purchase rate limiter
	var limiter app.RateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("unable to parse redis URL", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		limiter = app.NewRedisRateLimiter(redisClient, "tradelab:rate_limit")
		logger.Info("redis rate limiter configured")
	}

	payments := paymentclient.NewClient(
		cfg.PaymentProviderURL,
		cfg.PaymentProviderAPIKey,
		time.Duration(cfg.PaymentTimeoutSeconds)*time.Second,
	)

	// Initialize application layers
	repository := store.NewRepository(dbpool)
	lifecycle := app.NewLifecycleManager(repository, publisher, logger)
	billing := app.NewBillingProcessor(repository, lifecycle, payments, logger,
		time.Duration(cfg.BillingClaimLeaseSeconds)*time.Second)
	access := app.NewAccessEvaluator(repository)
	commissions := app.NewCommissionService(repository, publisher, logger)
	purchases := app.NewPurchaseService(repository, lifecycle, commissions, payments, limiter, logger,
		cfg.PurchaseRateLimit, time.Duration(cfg.PurchaseRateWindowSeconds)*time.Second)

	// Start the cron scheduler in the background
	jobs := app.NewJobs(billing, lifecycle, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	handler := api.NewHandler(lifecycle, billing, access, purchases, commissions)
	router := api.NewRouter(handler, cfg.JWKSURL, cfg.InternalAPIKey)

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

	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	logger.Info("server stopped")
}
