package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/minersworld/tipledger/service/config"
	"github.com/minersworld/tipledger/service/db"
	"github.com/minersworld/tipledger/service/ledger"
	"github.com/minersworld/tipledger/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Ledger is the subset of the ledger engine the HTTP handlers need.
// Declared here so handlers can be tested against a mock.
type Ledger interface {
	EnsureUser(ctx context.Context, snowflakeID int64) (*db.User, error)
	GetUser(ctx context.Context, snowflakeID int64) (*db.User, error)
	SetSoakOptIn(ctx context.Context, snowflakeID int64, enabled bool) error
	Tip(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) (*db.Tip, error)
	MultiTip(ctx context.Context, fromUserID int64, recipients []int64, amount decimal.Decimal, split bool) ([]*db.Tip, error)
	Soak(ctx context.Context, fromUserID int64, candidates []int64, amount decimal.Decimal, split bool) ([]*db.Tip, error)
	Withdraw(ctx context.Context, userID int64, address string, amount decimal.Decimal) (*db.Withdrawal, error)
	CreateAirdrop(ctx context.Context, params db.CreateAirdropParams) (*db.Airdrop, error)
	ListAirdropsByCreator(ctx context.Context, creatorID int64) ([]*db.Airdrop, error)
	CancelAirdrop(ctx context.Context, airdropID, requesterID int64) error
	ListDeposits(ctx context.Context, userID int64, limit int32) ([]*db.Deposit, error)
	ListWithdrawals(ctx context.Context, userID int64, limit int32) ([]*db.Withdrawal, error)
}

var _ Ledger = (*ledger.Engine)(nil)

// AirdropScheduler starts and cancels the delayed payout workflows backing
// scheduled airdrops.
type AirdropScheduler interface {
	ScheduleAirdrop(ctx context.Context, airdrop *db.Airdrop) error
	CancelAirdropWorkflow(ctx context.Context, airdropID int64) error
}

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr      string
	cfg       *config.Config
	engine    Ledger
	scheduler AirdropScheduler
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to start/cancel Temporal workflows for scheduled
// airdrops. The metrics is optional - if nil, the /metrics endpoint won't
// be available.
func New(addr string, cfg *config.Config, engine Ledger, scheduler AirdropScheduler, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		engine:    engine,
		scheduler: scheduler,
		metrics:   m,
		logger:    logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := s.routes()

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)
	if s.metrics != nil {
		handler = metricsMiddleware(s.metrics, handler)
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// User routes
	mux.Handle("POST /api/v1/users/{id}", handleEnsureUser(s.engine, s.logger))
	mux.Handle("GET /api/v1/users/{id}", handleGetUser(s.engine, s.logger))
	mux.Handle("GET /api/v1/users/{id}/balance", handleGetBalance(s.engine, s.logger))
	mux.Handle("POST /api/v1/users/{id}/soak-opt-in", handleSetSoakOptIn(s.engine, s.logger))
	mux.Handle("GET /api/v1/users/{id}/deposits", handleListDeposits(s.engine, s.logger))
	mux.Handle("GET /api/v1/users/{id}/withdrawals", handleListWithdrawals(s.engine, s.logger))

	// Transfer routes
	mux.Handle("POST /api/v1/tips", handleTip(s.engine, s.logger))
	mux.Handle("POST /api/v1/multi-tips", handleMultiTip(s.engine, s.logger))
	mux.Handle("POST /api/v1/withdrawals", handleWithdraw(s.engine, s.logger))

	// Airdrop routes
	mux.Handle("POST /api/v1/airdrops", handleCreateAirdrop(s.engine, s.scheduler, s.logger))
	mux.Handle("GET /api/v1/airdrops", handleListAirdrops(s.engine, s.logger))
	mux.Handle("DELETE /api/v1/airdrops/{id}", handleCancelAirdrop(s.engine, s.scheduler, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return mux
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records request counts and latencies per method/path.
func metricsMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.URL.Path, r.Method, rec.status, time.Since(start).Seconds())
	})
}
