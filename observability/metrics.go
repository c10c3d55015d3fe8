package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolDepth tracks the number of bookings currently held in the pool by state.
	PoolDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interpassign_pool_depth",
		Help: "Current number of bookings in the pool by state",
	}, []string{"state"})

	// AssignmentDecisions tracks the outcome of every Assign call.
	AssignmentDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interpassign_assignment_decisions_total",
		Help: "Total number of assignment decisions made",
	}, []string{"outcome", "reason"})

	// AssignmentScoreSpread tracks the fairness gap across interpreters after each decision.
	AssignmentScoreSpread = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interpassign_fairness_spread_hours",
		Help:    "Post-assignment spread between the busiest and idlest interpreter, in hours",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	// BatchSpreadDelta tracks the fairness improvement a batch-optimised tick produced.
	BatchSpreadDelta = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interpassign_batch_spread_delta_hours",
		Help:    "Reduction in fairness spread a batch tick produced (initial - final)",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})

	// BatchSize tracks how many pool entries each tick actually drained.
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interpassign_batch_entries",
		Help:    "Number of pool entries drained per batch-optimiser tick",
		Buckets: prometheus.LinearBuckets(0, 2, 10),
	})

	// RunLoopDuration tracks the duration of one orchestrator Tick.
	RunLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interpassign_tick_duration_seconds",
		Help:    "Duration of one orchestrator Tick call",
		Buckets: prometheus.DefBuckets,
	})

	// StoreCircuitState tracks the store circuit breaker's current state.
	StoreCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interpassign_store_circuit_state",
		Help: "Store circuit breaker state (0=closed, 1=half_open, 2=open)",
	})

	// PolicyCacheInvalidations tracks resolver cache flushes caused by a policy generation bump.
	PolicyCacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interpassign_policy_cache_invalidations_total",
		Help: "Total number of threshold-cache invalidations due to a policy write",
	})

	// DRConsecutiveOutcomes tracks how the DR history tracker resolved a consecutive-assignment check.
	DRConsecutiveOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interpassign_dr_consecutive_outcomes_total",
		Help: "Outcomes of consecutive-DR evaluation",
	}, []string{"outcome"}) // blocked, penalised, overridden, newcomer_grace, clear

	// RosterChanges tracks interpreter additions and departures detected per refresh.
	RosterChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interpassign_roster_changes_total",
		Help: "Total number of newcomer/departed interpreters detected",
	}, []string{"kind"}) // newcomer, departed

	// LogSinkFailures tracks best-effort audit log append failures.
	LogSinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interpassign_log_sink_failures_total",
		Help: "Total number of assignment log append failures (non-blocking)",
	})

	// LeaseReclaims tracks pool entries whose processing lease expired and was reclaimed.
	LeaseReclaims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interpassign_lease_reclaims_total",
		Help: "Total number of pool entry leases reclaimed after watchdog expiry",
	})
)
