package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "club_console"

var (
	// LedgerAppends counts ledger appends by direction and outcome.
	LedgerAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_appends_total",
			Help:      "Ledger append attempts by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	// AuthorizationDecisions counts gate decisions by operation and result.
	AuthorizationDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization gate decisions",
		},
		[]string{"operation", "result"},
	)

	// AuditRecordFailures counts privileged mutations whose audit entry could not be written.
	AuditRecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_record_failures_total",
			Help:      "Audit entries that failed to persist after the mutation succeeded",
		},
		[]string{"action"},
	)

	// OutboxPublished counts relay outcomes for audit outbox rows.
	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_outbox_events_total",
			Help:      "Audit outbox rows processed by the relay",
		},
		[]string{"result"},
	)

	// ReconciliationGaps tracks the gaps found by the last reconciliation run.
	ReconciliationGaps = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_gaps",
			Help:      "Ledger/audit mismatches found by the last reconciliation run",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		LedgerAppends,
		AuthorizationDecisions,
		AuditRecordFailures,
		OutboxPublished,
		ReconciliationGaps,
	)
}
