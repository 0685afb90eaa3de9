// Package metrics - prometheus instrumentation
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EnclaveOperations tracks enclave operations by outcome
	EnclaveOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_enclave_operations_total",
		Help: "Total number of enclave operations",
	}, []string{"operation", "result"})

	// Rotations tracks completed proxy key rotations
	Rotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proxykey_rotations_total",
		Help: "Total number of proxy key rotations committed",
	})

	// ActiveSessions tracks unlocked owner sessions
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "proxykey_active_sessions",
		Help: "Number of owner sessions currently unlocked",
	})

	// AuditAppends tracks audit log appends by outcome
	AuditAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_audit_appends_total",
		Help: "Total number of audit log appends",
	}, []string{"result"})

	// RateLimitDecisions tracks rate limiter decisions
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_ratelimit_decisions_total",
		Help: "Total number of rate limit decisions",
	}, []string{"decision"})

	// BansIssued tracks IP bans issued by reason
	BansIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_bans_issued_total",
		Help: "Total number of IP bans issued",
	}, []string{"reason"})

	// SweptEntries tracks rows removed by the rate limit sweeper
	SweptEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_swept_entries_total",
		Help: "Total number of idle windows and expired bans removed",
	}, []string{"kind"})

	// WebhookDeliveries tracks rotation webhook deliveries by outcome
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proxykey_webhook_deliveries_total",
		Help: "Total number of rotation webhook delivery attempts",
	}, []string{"result"})
)

// Outcome labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
