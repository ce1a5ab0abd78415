package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_requests_total",
			Help: "Total number of HTTP requests seen by the guard, by decision",
		},
		[]string{"decision"},
	)

	RequestsBlocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_requests_blocked_total",
			Help: "Total number of requests blocked, by reason",
		},
		[]string{"method", "reason"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rhinoguard_request_duration_seconds",
			Help:    "Time from guard entry to response, in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	DownstreamFaults = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rhinoguard_downstream_faults_total",
			Help: "Total number of panics recovered from downstream handlers",
		},
	)

	SignatureMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_signature_matches_total",
			Help: "Total number of suspicious signature hits, by signature",
		},
		[]string{"signature"},
	)

	// Rate and ban state
	TrackedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rhinoguard_tracked_clients",
			Help: "Number of clients with a live rate window",
		},
	)

	BannedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rhinoguard_banned_clients",
			Help: "Number of currently banned clients",
		},
	)

	BansIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_bans_issued_total",
			Help: "Total number of bans issued or escalated, by reason",
		},
		[]string{"reason"},
	)

	SweepRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_sweep_removed_total",
			Help: "Entries removed by the background sweep",
		},
		[]string{"store"},
	)

	// Audit log
	AuditAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rhinoguard_audit_appended_total",
			Help: "Audit records appended to the ring",
		},
	)

	AuditOverwritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rhinoguard_audit_overwritten_total",
			Help: "Audit records overwritten before a sink read them",
		},
	)

	AuditFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_audit_flushed_total",
			Help: "Audit records delivered to a sink",
		},
		[]string{"sink"},
	)

	AuditFlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_audit_flush_errors_total",
			Help: "Failed audit sink writes",
		},
		[]string{"sink"},
	)

	// Configuration reload metrics
	ConfigReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhinoguard_config_reloads_total",
			Help: "Total number of configuration reloads by outcome",
		},
		[]string{"outcome"},
	)
)

// ObserveRequest records the per-request counters in one place
func ObserveRequest(method, decision string, blocked bool, status int, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(decision).Inc()
	if blocked {
		RequestsBlocked.WithLabelValues(method, decision).Inc()
	}
	RequestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
