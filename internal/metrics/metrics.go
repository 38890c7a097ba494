// Package metrics exposes Prometheus instrumentation for the bridge,
// grounded on the pack's package-level metrics-registry idiom (vars +
// init-time MustRegister + an http.Handler for /metrics).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Downstream hub
	DownstreamConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_downstream_ws_connections_active",
			Help: "Current number of active downstream-WS connections across all consumers",
		},
	)

	DownstreamEventsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_downstream_events_sent_total",
			Help: "Total number of events delivered downstream by transport",
		},
		[]string{"transport"},
	)

	DownstreamFanoutDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_downstream_fanout_duration_seconds",
			Help:    "Time taken to fan an upstream notification out to all interested consumers",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Upstream session machine
	UpstreamSessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_upstream_session_state",
			Help: "Current upstream-WS session state (0=idle,1=opening,2=active,3=closing,4=cooldown_suspended)",
		},
	)

	UpstreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_upstream_reconnects_total",
			Help: "Total number of upstream-WS reconnect attempts",
		},
	)

	UpstreamNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_upstream_notifications_total",
			Help: "Total number of upstream EventSub notifications received by transport",
		},
		[]string{"transport"},
	)

	// Dedupe
	DedupeDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_dedupe_dropped_total",
			Help: "Total number of notifications dropped as duplicates",
		},
	)

	// Reconciler
	ReconcileRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_reconcile_runs_total",
			Help: "Total number of reconciliation runs completed",
		},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_reconcile_duration_seconds",
			Help:    "Time taken for a reconciliation run",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Subscription ensurer
	EnsureAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_ensure_attempts_total",
			Help: "Total number of subscription-ensure attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Stale-interest GC
	GCSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_gc_sweeps_total",
			Help: "Total number of stale-interest GC sweeps completed",
		},
	)

	GCInterestsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_gc_interests_deleted_total",
			Help: "Total number of interests deleted as stale",
		},
	)

	// Service boundary
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		DownstreamConnectionsActive,
		DownstreamEventsSentTotal,
		DownstreamFanoutDuration,
		UpstreamSessionState,
		UpstreamReconnectsTotal,
		UpstreamNotificationsTotal,
		DedupeDroppedTotal,
		ReconcileRunsTotal,
		ReconcileDuration,
		EnsureAttemptsTotal,
		GCSweepsTotal,
		GCInterestsDeletedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations before recording them to a
// histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
