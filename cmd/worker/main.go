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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minersworld/tipledger/service/config"
	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/ledger"
	"github.com/minersworld/tipledger/service/metrics"
	natspkg "github.com/minersworld/tipledger/service/nats"
	"github.com/minersworld/tipledger/service/reconcile"
	"github.com/minersworld/tipledger/service/temporal"
	"github.com/minersworld/tipledger/service/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load and validate configuration from environment
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting temporal worker",
		"temporal_host", cfg.TemporalHost,
		"namespace", cfg.TemporalNamespace,
		"task_queue", cfg.TemporalTaskQueue,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Start metrics HTTP server
	metricsAddr := getEnv("METRICS_ADDR", ":9091")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info("starting metrics HTTP server", "addr", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	// Initialize wallet daemon RPC client
	walletClient := wallet.NewClient(
		cfg.WalletRPCURL,
		cfg.WalletRPCUser,
		cfg.WalletRPCPass,
		cfg.RPCTimeout,
		metricsCollector,
		logger,
	)
	logger.Info("initialized wallet RPC client", "url", cfg.WalletRPCURL)

	// Initialize NATS publisher for deposit notifications
	natsPublisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
	if err != nil {
		logger.Error("failed to create NATS publisher", "error", err)
		os.Exit(1)
	}
	defer natsPublisher.Close()
	logger.Info("connected to NATS", "url", cfg.NATSURL)

	// Initialize deposit reconciler
	reconciler := reconcile.NewReconciler(
		store,
		walletClient,
		natsPublisher,
		cfg.MinConfirmations,
		metricsCollector,
		logger,
	)

	// Initialize ledger engine for airdrop execution
	engine := ledger.NewEngine(store, walletClient, reconciler, ledger.Config{
		TxFee:                cfg.TxFee,
		AirdropMaxRecipients: cfg.AirdropMaxRecipients,
		SoakMaxRecipients:    cfg.SoakMaxRecipients,
	}, metricsCollector, logger)

	// Airdrop recipients are resolved at execution time. Without a
	// platform-side member list the soak opt-in set is the recipient pool.
	resolver := temporal.ResolverFunc(func(ctx context.Context, airdropID int64) ([]int64, error) {
		airdrop, err := store.GetAirdrop(ctx, airdropID)
		if err != nil {
			return nil, fmt.Errorf("failed to load airdrop %d: %w", airdropID, err)
		}
		return store.ListSoakParticipants(ctx, airdrop.CreatorID, int32(cfg.AirdropMaxRecipients))
	})

	// Initialize Temporal client for schedule management
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		logger,
	)
	if err != nil {
		logger.Error("failed to create temporal client", "error", err)
		os.Exit(1)
	}
	defer temporalClient.Close()

	// Initialize Temporal worker
	workerConfig := temporal.WorkerConfig{
		TemporalHost:      cfg.TemporalHost,
		TemporalNamespace: cfg.TemporalNamespace,
		TaskQueue:         cfg.TemporalTaskQueue,
		Reconciler:        reconciler,
		Engine:            engine,
		Resolver:          resolver,
		Metrics:           metricsCollector,
		Logger:            logger,
	}

	worker, err := temporal.NewWorker(workerConfig)
	if err != nil {
		logger.Error("failed to create temporal worker", "error", err)
		os.Exit(1)
	}

	// Ensure the reconcile schedule exists, then run one recovery cycle so
	// deposits that landed while the worker was down are credited promptly.
	if err := temporalClient.EnsureReconcileSchedule(ctx, cfg.PollInterval); err != nil {
		logger.Error("failed to ensure reconcile schedule", "error", err)
		os.Exit(1)
	}

	logger.Info("temporal worker initialized, all dependencies ready",
		"poll_interval", cfg.PollInterval,
		"min_confirmations", cfg.MinConfirmations,
		"temporal_host", cfg.TemporalHost,
		"task_queue", cfg.TemporalTaskQueue,
	)

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		logger.Info("starting temporal worker")
		workerErrors <- worker.Start()
	}()

	// Startup reconcile runs after the worker is polling the task queue.
	if err := temporalClient.RunStartupReconcile(ctx); err != nil {
		logger.Warn("failed to start startup reconcile", "error", err)
	}

	// Wait for shutdown signal or worker error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-workerErrors:
		logger.Error("temporal worker error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop worker gracefully
		logger.Info("stopping temporal worker")
		worker.Stop()
		logger.Info("temporal worker stopped")

		logger.Info("shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// getEnv returns the value of an environment variable or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
