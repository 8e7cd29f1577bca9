package main

import (
	"context"
	"log/slog"
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
	"github.com/minersworld/tipledger/service/server"
	"github.com/minersworld/tipledger/service/temporal"
	"github.com/minersworld/tipledger/service/wallet"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
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

	// Apply pending migrations
	if err := db.Migrate(ctx, dbPool); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

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

	// The reconciler doubles as the pre-withdrawal balance refresher.
	reconciler := reconcile.NewReconciler(
		store,
		walletClient,
		natsPublisher,
		cfg.MinConfirmations,
		metricsCollector,
		logger,
	)

	// Initialize ledger engine
	engine := ledger.NewEngine(store, walletClient, reconciler, ledger.Config{
		TxFee:                cfg.TxFee,
		AirdropMaxRecipients: cfg.AirdropMaxRecipients,
		SoakMaxRecipients:    cfg.SoakMaxRecipients,
	}, metricsCollector, logger)

	// Initialize Temporal client for airdrop workflow scheduling
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

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, cfg, engine, temporalClient, metricsCollector, logger)

	logger.Info("server initialized, all dependencies ready",
		"wallet_rpc", cfg.WalletRPCURL,
		"nats_url", cfg.NATSURL,
		"temporal_host", cfg.TemporalHost,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
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
