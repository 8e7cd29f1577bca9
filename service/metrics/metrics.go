package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Wallet daemon RPC metrics
	walletRPCCallsTotal   *prometheus.CounterVec
	walletRPCCallDuration *prometheus.HistogramVec

	// Reconciliation metrics
	reconcileCyclesTotal   *prometheus.CounterVec
	reconcileCycleDuration *prometheus.HistogramVec
	depositsRecordedTotal  *prometheus.CounterVec
	depositsPromotedTotal  prometheus.Counter
	depositTxidsSkipped    *prometheus.CounterVec
	reconcileAddressesSeen prometheus.Histogram

	// Transfer metrics
	transfersTotal *prometheus.CounterVec

	// Database metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		walletRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_rpc_calls_total",
				Help: "Total number of wallet daemon RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		walletRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_rpc_call_duration_seconds",
				Help:    "Duration of wallet daemon RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		reconcileCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reconcile_cycles_total",
				Help: "Total number of deposit reconciliation cycles",
			},
			[]string{"status"},
		),
		reconcileCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reconcile_cycle_duration_seconds",
				Help:    "Duration of deposit reconciliation cycles in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		depositsRecordedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposits_recorded_total",
				Help: "Total number of deposits recorded by initial status",
			},
			[]string{"status"},
		),
		depositsPromotedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deposits_promoted_total",
				Help: "Total number of deposits promoted from unconfirmed to confirmed",
			},
		),
		depositTxidsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deposit_txids_skipped_total",
				Help: "Total number of txids skipped during reconciliation",
			},
			[]string{"reason"},
		),
		reconcileAddressesSeen: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reconcile_addresses_seen",
				Help:    "Number of receiving addresses returned per reconciliation cycle",
				Buckets: []float64{1, 10, 50, 100, 250, 500, 1000},
			},
		),

		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfers_total",
				Help: "Total number of balance transfers by kind and status",
			},
			[]string{"kind", "status"},
		),

		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Wallet RPC metric helpers

// RecordRPCCall records a wallet daemon RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	m.walletRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.walletRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// Reconciliation metric helpers

// RecordReconcileCycle records a completed reconciliation cycle.
func (m *Metrics) RecordReconcileCycle(status string, duration float64) {
	m.reconcileCyclesTotal.WithLabelValues(status).Inc()
	m.reconcileCycleDuration.WithLabelValues(status).Observe(duration)
}

// RecordDepositRecorded records a newly recorded deposit by initial status.
func (m *Metrics) RecordDepositRecorded(status string) {
	m.depositsRecordedTotal.WithLabelValues(status).Inc()
}

// RecordDepositPromoted records an unconfirmed deposit reaching the
// confirmation threshold.
func (m *Metrics) RecordDepositPromoted() {
	m.depositsPromotedTotal.Inc()
}

// RecordTxidSkipped records a txid skipped during reconciliation.
func (m *Metrics) RecordTxidSkipped(reason string) {
	m.depositTxidsSkipped.WithLabelValues(reason).Inc()
}

// RecordAddressesSeen records the address count of a reconcile listing.
func (m *Metrics) RecordAddressesSeen(count float64) {
	m.reconcileAddressesSeen.Observe(count)
}

// Transfer metric helpers

// RecordTransfer records a balance transfer attempt by kind
// (tip, multi_tip, withdrawal, airdrop) and outcome.
func (m *Metrics) RecordTransfer(kind, status string) {
	m.transfersTotal.WithLabelValues(kind, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
