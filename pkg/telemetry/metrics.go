package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	APIConversationsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "api",
		Name:      "conversations_submitted_total",
		Help:      "Total conversations submitted for assignment through the API.",
	}, []string{"priority"})

	APIManualAssignments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "api",
		Name:      "manual_assignments_total",
		Help:      "Total manual assignment commands accepted by the API.",
	})

	// ─── Queue ───────────────────────────────────────────────────────────────────

	QueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camp",
		Subsystem: "queue",
		Name:      "pending",
		Help:      "Conversations currently awaiting assignment.",
	})

	QueueFailed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camp",
		Subsystem: "queue",
		Name:      "failed",
		Help:      "Conversations that exhausted their assignment attempts.",
	})

	QueueHighPriority = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camp",
		Subsystem: "queue",
		Name:      "high_priority",
		Help:      "Pending conversations at high or urgent priority.",
	})

	QueueExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "queue",
		Name:      "expired_total",
		Help:      "Total conversations expired by the sweep.",
	})

	// ─── Coordinator ─────────────────────────────────────────────────────────────

	AssignmentsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "coordinator",
		Name:      "assignments_committed_total",
		Help:      "Total committed assignments, labelled by how they were initiated.",
	}, []string{"mode"})

	AssignmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "coordinator",
		Name:      "outcomes_total",
		Help:      "Coordinator run outcomes (committed, already_assigned, no_candidate, expired).",
	}, []string{"outcome"})

	AssignmentConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "coordinator",
		Name:      "conflicts_total",
		Help:      "Optimistic version conflicts observed at commit.",
	})

	ScoringDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "camp",
		Subsystem: "coordinator",
		Name:      "scoring_duration_seconds",
		Help:      "Time spent fetching and ranking candidates per conversation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	CoordinatorDLQTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "coordinator",
		Name:      "dlq_total",
		Help:      "Total messages sent to the DLQ by the assigner (malformed or unroutable).",
	})

	// ─── Events ──────────────────────────────────────────────────────────────────

	EventsBuffered = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camp",
		Subsystem: "events",
		Name:      "buffered",
		Help:      "Realtime events currently held in the ordering buffer, by channel.",
	}, []string{"channel"})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camp",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Events delivered to handlers in timestamp order, by type.",
	}, []string{"type"})
)
