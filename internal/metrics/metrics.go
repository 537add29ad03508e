// Package metrics exposes the gateway's Prometheus instrumentation: request
// throughput and latency by state, per-account spend, and injection
// detections by severity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge/histogram the gateway records. Each
// instance owns a private registry so tests can build multiple Metrics
// without tripping Prometheus's duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts completed pipeline runs by terminal state.
	// Labels: state (COMPLETED|CANCELLED|FAILED|BLOCKED)
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures end-to-end pipeline latency in seconds.
	// Labels: state
	RequestDuration *prometheus.HistogramVec

	// BackendRequestsTotal counts dispatcher attempts by provider and outcome.
	// Labels: provider, outcome (success|retry|failover|error)
	BackendRequestsTotal *prometheus.CounterVec

	// TokensTotal tracks token consumption by account, provider, and kind.
	// Labels: account_id, provider, kind (prompt|completion)
	TokensTotal *prometheus.CounterVec

	// CostUSDTotal tracks cumulative spend by account.
	// Labels: account_id, provider
	CostUSDTotal *prometheus.CounterVec

	// AccountBudgetFraction gauges usageCurrentMonthUsd / budgetMonthlyUsd.
	// Labels: account_id
	AccountBudgetFraction *prometheus.GaugeVec

	// InjectionDetections counts detector verdicts by severity and action.
	// Labels: severity (low|medium|high), action (allow|flag|block)
	InjectionDetections *prometheus.CounterVec

	// RateLimitBans counts ban-limiter escalations by key scope.
	// Labels: scope (user|session)
	RateLimitBans *prometheus.CounterVec

	// MemoryRetrievalDuration measures C5 retrieval latency in seconds.
	MemoryRetrievalDuration prometheus.Histogram

	// FilterRedactions counts response-filter redactions by tag.
	// Labels: tag ([REDACTED]|[REDACTED_BASE64]|[REDACTED_PII])
	FilterRedactions *prometheus.CounterVec
}

// New builds and registers a fresh Metrics instance against its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_requests_total",
				Help: "Total number of pipeline runs by terminal state",
			},
			[]string{"state"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pearlgate_request_duration_seconds",
				Help:    "End-to-end pipeline latency in seconds by terminal state",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"state"},
		),

		BackendRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_backend_requests_total",
				Help: "Total number of backend dispatch attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_tokens_total",
				Help: "Total tokens consumed by account, provider, and kind",
			},
			[]string{"account_id", "provider", "kind"},
		),

		CostUSDTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_cost_usd_total",
				Help: "Cumulative cost in USD by account and provider",
			},
			[]string{"account_id", "provider"},
		),

		AccountBudgetFraction: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pearlgate_account_budget_fraction",
				Help: "Fraction of monthly budget consumed by account",
			},
			[]string{"account_id"},
		),

		InjectionDetections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_injection_detections_total",
				Help: "Total injection detector verdicts by severity and action",
			},
			[]string{"severity", "action"},
		),

		RateLimitBans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_rate_limit_bans_total",
				Help: "Total ban-limiter escalations by scope",
			},
			[]string{"scope"},
		),

		MemoryRetrievalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pearlgate_memory_retrieval_duration_seconds",
				Help:    "Memory retrieval latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		FilterRedactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pearlgate_filter_redactions_total",
				Help: "Total response redactions by tag",
			},
			[]string{"tag"},
		),
	}
}

// RecordRequest records the terminal outcome and latency of one pipeline run.
func (m *Metrics) RecordRequest(state string, durationSeconds float64) {
	m.RequestsTotal.WithLabelValues(state).Inc()
	m.RequestDuration.WithLabelValues(state).Observe(durationSeconds)
}

// RecordBackendAttempt records one dispatcher attempt.
func (m *Metrics) RecordBackendAttempt(provider, outcome string) {
	m.BackendRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordUsage records token consumption and cost for one completed request.
func (m *Metrics) RecordUsage(accountID, provider string, promptTokens, completionTokens int, costUSD float64) {
	m.TokensTotal.WithLabelValues(accountID, provider, "prompt").Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues(accountID, provider, "completion").Add(float64(completionTokens))
	m.CostUSDTotal.WithLabelValues(accountID, provider).Add(costUSD)
}

// SetAccountBudgetFraction sets the current budget-consumed fraction gauge.
func (m *Metrics) SetAccountBudgetFraction(accountID string, fraction float64) {
	m.AccountBudgetFraction.WithLabelValues(accountID).Set(fraction)
}

// RecordInjectionDetection records one detector verdict.
func (m *Metrics) RecordInjectionDetection(severity, action string) {
	m.InjectionDetections.WithLabelValues(severity, action).Inc()
}

// RecordRateLimitBan records one ban-limiter escalation.
func (m *Metrics) RecordRateLimitBan(scope string) {
	m.RateLimitBans.WithLabelValues(scope).Inc()
}

// RecordFilterRedaction records one response-filter redaction by tag.
func (m *Metrics) RecordFilterRedaction(tag string) {
	m.FilterRedactions.WithLabelValues(tag).Inc()
}

// Handler returns the /metrics HTTP handler for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
