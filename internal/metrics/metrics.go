package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	// Verification metrics
	VerificationsTotal *prometheus.CounterVec
	VerifyDuration     *prometheus.HistogramVec

	// Settlement metrics
	SettlementsTotal      *prometheus.CounterVec
	SettlementDuration    *prometheus.HistogramVec
	SettlementRetries     *prometheus.CounterVec
	ReconciliationsTotal  *prometheus.CounterVec
	InFlightSettlements   prometheus.Gauge
	SettlementAmountTotal *prometheus.CounterVec

	// RPC call metrics
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Signer oracle metrics
	OracleSubmissionsTotal *prometheus.CounterVec
	OracleSubmitDuration   *prometheus.HistogramVec

	// Gate metrics
	RateLimitHitsTotal *prometheus.CounterVec
	QuotaRejectsTotal  *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Verification metrics
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_verifications_total",
				Help: "Total number of payment verifications",
			},
			[]string{"network", "result"},
		),
		VerifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_verify_duration_seconds",
				Help:    "Time taken to verify a payment authorization (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"network"},
		),

		// Settlement metrics
		SettlementsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settlements_total",
				Help: "Total number of settlement attempts",
			},
			[]string{"network", "result"},
		),
		SettlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_settlement_duration_seconds",
				Help:    "Time from settlement request to terminal outcome",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"network"},
		),
		SettlementRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settlement_retries_total",
				Help: "Total number of settlement resubmissions after reconciliation",
			},
			[]string{"network"},
		),
		ReconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_reconciliations_total",
				Help: "Reconciliation passes by outcome (confirmed_success, confirmed_failure, hash_recovered)",
			},
			[]string{"network", "outcome"},
		),
		InFlightSettlements: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_settlements_in_flight",
				Help: "Settlements currently executing or awaited by duplicate requests",
			},
		),
		SettlementAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_settlement_amount_atomic_total",
				Help: "Total settled amount in token atomic units",
			},
			[]string{"network", "asset"},
		),

		// RPC call metrics
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rpc_calls_total",
				Help: "Total number of JSON-RPC calls to blockchain nodes",
			},
			[]string{"method", "network"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_rpc_call_duration_seconds",
				Help:    "Duration of JSON-RPC calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "network"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rpc_errors_total",
				Help: "Total number of JSON-RPC errors",
			},
			[]string{"method", "network", "error_type"},
		),

		// Signer oracle metrics
		OracleSubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_oracle_submissions_total",
				Help: "Total number of transaction submissions through the signer oracle",
			},
			[]string{"network", "result"},
		),
		OracleSubmitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_oracle_submit_duration_seconds",
				Help:    "Duration of signer oracle submissions",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"network"},
		),

		// Gate metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "tier"},
		),
		QuotaRejectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facilitator_quota_rejects_total",
				Help: "Settlements rejected for exhausted monthly quota",
			},
			[]string{"tier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "facilitator_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "facilitator_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveVerification records a verification attempt and its verdict.
func (m *Metrics) ObserveVerification(network string, valid bool, duration time.Duration) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	m.VerificationsTotal.WithLabelValues(network, result).Inc()
	m.VerifyDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveSettlement records a settlement attempt and its terminal outcome.
func (m *Metrics) ObserveSettlement(network string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.SettlementsTotal.WithLabelValues(network, result).Inc()
	m.SettlementDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveSettlementAmount records the settled amount for a successful settlement.
func (m *Metrics) ObserveSettlementAmount(network, asset string, atomicAmount int64) {
	m.SettlementAmountTotal.WithLabelValues(network, asset).Add(float64(atomicAmount))
}

// ObserveReconciliation records a reconciliation pass outcome.
func (m *Metrics) ObserveReconciliation(network, outcome string) {
	m.ReconciliationsTotal.WithLabelValues(network, outcome).Inc()
}

// ObserveSettlementRetry records a resubmission after reconciliation.
func (m *Metrics) ObserveSettlementRetry(network string) {
	m.SettlementRetries.WithLabelValues(network).Inc()
}

// ObserveRPCCall records an RPC call to the blockchain.
func (m *Metrics) ObserveRPCCall(method, network string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method, network).Inc()
	m.RPCCallDuration.WithLabelValues(method, network).Observe(duration.Seconds())

	if err != nil {
		errorType := "unknown"
		// Categorize errors
		if errStr := err.Error(); errStr != "" {
			switch {
			case contains(errStr, "timeout"):
				errorType = "timeout"
			case contains(errStr, "rate limit"):
				errorType = "rate_limit"
			case contains(errStr, "connection"):
				errorType = "connection"
			case contains(errStr, "not found"):
				errorType = "not_found"
			default:
				errorType = "other"
			}
		}
		m.RPCErrorsTotal.WithLabelValues(method, network, errorType).Inc()
	}
}

// ObserveOracleSubmission records a signer oracle submission.
func (m *Metrics) ObserveOracleSubmission(network string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.OracleSubmissionsTotal.WithLabelValues(network, result).Inc()
	m.OracleSubmitDuration.WithLabelValues(network).Observe(duration.Seconds())
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, tier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, tier).Inc()
}

// ObserveQuotaReject records a monthly quota rejection.
func (m *Metrics) ObserveQuotaReject(tier string) {
	m.QuotaRejectsTotal.WithLabelValues(tier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// Helper functions
func contains(s, substr string) bool {
	return len(s) >= len(substr) && s[:len(substr)] == substr ||
		len(s) > len(substr) && contains(s[1:], substr)
}
