// Package orchestrator implements the Run Orchestrator (C8): the
// top-level assign(bookingId) entry point that validates a booking,
// routes it to immediate scoring, pooling, or batch processing, persists
// the outcome, and emits an audit log.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/lucidrelay/interpassign/conflict"
	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/dynamicpool"
	"github.com/lucidrelay/interpassign/fairness"
	"github.com/lucidrelay/interpassign/observability"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/pool"
	"github.com/lucidrelay/interpassign/resolver"
	"github.com/lucidrelay/interpassign/scoring"
	"github.com/lucidrelay/interpassign/store"
)

const (
	maxConflictRetries = 2
	maxStoreRetries    = 3
	storeRetryBase     = 100 * time.Millisecond
	storeRetryMax      = 2 * time.Second

	// tickRate paces repeated batch-drain ticks so a CLI-triggered "pool
	// drain" loop cannot busy-loop the BookingStore.
	tickRate  = rate.Limit(2)
	tickBurst = 5
)

// Engine wires together C1-C7 and C9 behind the single Assign entry point.
type Engine struct {
	Bookings store.BookingStore
	Policies store.PolicyStore
	Logs     store.LogSink
	Clock    store.Clock

	Resolver   *resolver.Resolver
	PoolMgr    *pool.Manager
	Conflicts  *conflict.Detector
	Fairness   *fairness.Calculator
	DRHistory  *drhistory.Tracker

	breaker *storeCircuitBreaker
	limiter *rate.Limiter

	roster           dynamicpool.Snapshot
	newcomers        map[string]bool
	adjustmentFactor float64
}

// New builds an Engine from its collaborators.
func New(bookings store.BookingStore, policies store.PolicyStore, logs store.LogSink, clock store.Clock,
	res *resolver.Resolver, poolMgr *pool.Manager, conflicts *conflict.Detector, fair *fairness.Calculator, dr *drhistory.Tracker) *Engine {
	return &Engine{
		Bookings:         bookings,
		Policies:         policies,
		Logs:             logs,
		Clock:            clock,
		Resolver:         res,
		PoolMgr:          poolMgr,
		Conflicts:        conflicts,
		Fairness:         fair,
		DRHistory:        dr,
		breaker:          newStoreCircuitBreaker(),
		limiter:          rate.NewLimiter(tickRate, tickBurst),
		adjustmentFactor: 1.0,
	}
}

// Assign is the C8 top-level entry point.
func (e *Engine) Assign(ctx context.Context, bookingID int64) (Outcome, error) {
	b, err := withRetry(ctx, func() (*store.Booking, error) {
		return e.Bookings.GetBooking(ctx, bookingID)
	})
	if err != nil {
		return e.escalateStoreUnavailable(ctx, bookingID, "getBooking", err)
	}

	if b == nil || b.Status == store.StatusCancel {
		return e.escalate(ctx, bookingID, "disabled", nil, false)
	}
	// Idempotence (§8.6): an already-approved booking returns as-is, no writes.
	if b.Status == store.StatusApproved {
		return Outcome{Kind: OutcomeAssigned, InterpreterID: b.AssignedInterpreter}, nil
	}

	pol, err := e.Policies.GetPolicy(ctx)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, bookingID, "getPolicy", err)
	}
	if !pol.AutoAssignEnabled {
		return e.escalate(ctx, bookingID, "disabled", nil, false)
	}

	resolved, err := e.Resolver.Resolve(ctx, b.MeetingType)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, bookingID, "resolveThresholds", err)
	}

	now := e.Clock.Now()
	daysUntilStart := b.TimeStart.Sub(now).Hours() / 24.0
	deadlineOverride := b.TimeStart.Sub(now) <= 24*time.Hour

	immediate := pol.Mode == policy.ModeUrgent || daysUntilStart <= float64(resolved.UrgentThresholdDays) ||
		daysUntilStart <= float64(resolved.GeneralThresholdDays) || deadlineOverride

	if !immediate {
		th := pool.Thresholds{ThresholdDays: resolved.GeneralThresholdDays, Priority: priorityFor(pol.Mode)}
		entry, err := e.PoolMgr.Add(ctx, b, pol.Mode, th, now)
		if err != nil {
			return e.escalateStoreUnavailable(ctx, bookingID, "poolAdd", err)
		}
		return Outcome{Kind: OutcomePooled, Deadline: entry.DeadlineTime}, nil
	}

	return e.scoreAndCommit(ctx, b, pol, resolved, now, daysUntilStart, 0)
}

func priorityFor(mode policy.Mode) int {
	switch mode {
	case policy.ModeUrgent:
		return 1
	case policy.ModeBalance:
		return 2
	default:
		return 3
	}
}

func (e *Engine) scoreAndCommit(ctx context.Context, b *store.Booking, pol policy.AssignmentPolicy, resolved resolver.Resolved, now time.Time, daysUntilStart float64, attempt int) (Outcome, error) {
	interpreters, err := e.Bookings.ListActiveInterpreters(ctx)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, b.ID, "listActiveInterpreters", err)
	}
	ids := make([]string, 0, len(interpreters))
	for _, i := range interpreters {
		ids = append(ids, i.ID)
	}

	available, err := e.Conflicts.FilterAvailable(ctx, ids, b.TimeStart, b.TimeEnd)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, b.ID, "filterAvailable", err)
	}

	hours, err := e.Fairness.Hours(ctx, now, pol.FairnessWindowDays)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, b.ID, "fairnessHours", err)
	}
	for _, id := range ids {
		if _, ok := hours[id]; !ok {
			hours[id] = 0
		}
	}
	preHours := cloneHours(hours)

	urgency := scoring.Urgency(daysUntilStart, resolved.UrgentThresholdDays, resolved.GeneralThresholdDays)

	candidates, err := e.buildCandidates(ctx, b, pol, available, hours, now)
	if err != nil {
		return e.escalateStoreUnavailable(ctx, b.ID, "scoreCandidates", err)
	}
	for _, c := range candidates {
		if c.IsDR {
			observability.DRConsecutiveOutcomes.WithLabelValues(drOutcomeLabel(c.DR)).Inc()
		}
	}

	breakdown := scoring.Rank(candidates, hours, urgency, pol.EffectiveWeights(), pol.MaxGapHours, pol.FairnessWindowDays, e.adjustmentFactor)
	if len(breakdown) == 0 || !breakdown[0].Eligible {
		return e.escalate(ctx, b.ID, "no eligible interpreter", breakdown, true)
	}

	winner := breakdown[0]
	committed, err := withRetry(ctx, func() (bool, error) {
		return e.Bookings.CommitAssignment(ctx, b.ID, winner.InterpreterID)
	})
	if err != nil {
		return e.escalateStoreUnavailable(ctx, b.ID, "commitAssignment", err)
	}
	if !committed {
		if attempt >= maxConflictRetries {
			return e.escalate(ctx, b.ID, "conflict_after_retries", breakdown, true)
		}
		return e.scoreAndCommit(ctx, b, pol, resolved, now, daysUntilStart, attempt+1)
	}

	postHours := cloneHours(hours)
	postHours[winner.InterpreterID] += b.Duration().Hours()

	e.appendLog(ctx, store.AssignmentLog{
		BookingID:         b.ID,
		Outcome:           "assigned",
		Reason:            "scored",
		PreHoursSnapshot:  preHours,
		PostHoursSnapshot: postHours,
		ScoreBreakdown:    breakdownJSON(breakdown),
		PolicyFingerprint: fingerprint(pol),
		Timestamp:         now,
	})
	e.removeFromPool(ctx, b.ID)
	observability.AssignmentDecisions.WithLabelValues("assigned", "scored").Inc()
	observability.AssignmentScoreSpread.Observe(spreadOf(postHours))

	return Outcome{Kind: OutcomeAssigned, InterpreterID: winner.InterpreterID, Score: winner.TotalScore}, nil
}

func spreadOf(h map[string]float64) float64 {
	first := true
	var min, max float64
	for _, v := range h {
		if first {
			min, max = v, v
			first = false
			continue
		}
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max - min
}

func (e *Engine) escalate(ctx context.Context, bookingID int64, reason string, breakdown []scoring.Breakdown, persist bool) (Outcome, error) {
	if persist {
		if err := e.Bookings.SetStatus(ctx, bookingID, store.StatusWaiting); err == nil {
			if err := e.PoolMgr.Resolve(ctx, bookingID, pool.StateFailed, e.Clock.Now()); err != nil {
				fmt.Printf("pool resolve failed for booking %d: %v\n", bookingID, err)
			}
		}
		e.appendLog(ctx, store.AssignmentLog{
			BookingID:  bookingID,
			Outcome:    "escalated",
			Reason:     reason,
			ScoreBreakdown: breakdownJSON(breakdown),
			Timestamp:  e.Clock.Now(),
		})
	}
	observability.AssignmentDecisions.WithLabelValues("escalated", reason).Inc()
	return Outcome{Kind: OutcomeEscalated, Reason: reason, Breakdown: breakdown}, nil
}

func (e *Engine) escalateStoreUnavailable(ctx context.Context, bookingID int64, op string, err error) (Outcome, error) {
	observability.AssignmentDecisions.WithLabelValues("escalated", "store_unavailable").Inc()
	return Outcome{Kind: OutcomeEscalated, Reason: "store_unavailable"}, &StoreUnavailableError{Op: op, Err: err}
}

// appendLog is best-effort: a LogSink failure never fails the assignment
// that produced it (§6, §7 LogSinkFailure).
func (e *Engine) appendLog(ctx context.Context, entry store.AssignmentLog) {
	if err := e.Logs.Append(ctx, entry); err != nil {
		fmt.Fprintf(os.Stderr, "assignment log append failed for booking %d: %v\n", entry.BookingID, err)
		observability.LogSinkFailures.Inc()
	}
}

// removeFromPool is best-effort: the assignment has already been durably
// committed to BookingStore by the time this runs, so a pool-store hiccup
// here only leaves a stale persisted entry behind, not a lost assignment.
func (e *Engine) removeFromPool(ctx context.Context, bookingID int64) {
	if err := e.PoolMgr.Remove(ctx, bookingID); err != nil {
		fmt.Printf("pool remove failed for booking %d: %v\n", bookingID, err)
	}
}

// scoreCandidates builds scoring.Candidate values for every available
// interpreter. When criticalCoverage is set and exactly one candidate is
// available, that candidate's DR evaluation is given IsCriticalCoverage,
// unlocking §4.5's override-to-penalty branch instead of a block.
func (e *Engine) scoreCandidates(ctx context.Context, b *store.Booking, pol policy.AssignmentPolicy, available []string, hours map[string]float64, now time.Time, criticalCoverage bool) ([]scoring.Candidate, error) {
	candidates := make([]scoring.Candidate, 0, len(available))
	for _, id := range available {
		daysSince, hasAny, err := e.Bookings.DaysSinceLast(ctx, id, now)
		if err != nil {
			return nil, err
		}

		c := scoring.Candidate{
			InterpreterID: id,
			CurrentHours:  hours[id],
			DaysSinceLast: daysSince,
			NeverAssigned: !hasAny,
			DurationHours: b.Duration().Hours(),
			IsNewcomer:    e.newcomers[id],
		}

		if b.MeetingType == store.MeetingDR {
			drOut, err := e.DRHistory.Evaluate(ctx, pol, drhistory.EvaluateInput{
				CandidateID:        id,
				BookingTimeStart:   b.TimeStart,
				DRType:             b.DRType,
				IsNewcomer:         e.newcomers[id],
				IsCriticalCoverage: criticalCoverage && len(available) == 1,
			})
			if err != nil {
				return nil, err
			}
			c.IsDR = true
			c.DR = drOut
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// buildCandidates scores the available interpreters for booking b,
// re-evaluating DR history with critical-coverage knowledge (§4.5) when
// the sole available candidate would otherwise be blocked for a
// consecutive DR assignment — the named scenario where only one
// interpreter is available and the policy must assign to them with a
// penalty rather than escalate.
func (e *Engine) buildCandidates(ctx context.Context, b *store.Booking, pol policy.AssignmentPolicy, available []string, hours map[string]float64, now time.Time) ([]scoring.Candidate, error) {
	candidates, err := e.scoreCandidates(ctx, b, pol, available, hours, now, false)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 1 && candidates[0].IsDR && candidates[0].DR.Blocked {
		return e.scoreCandidates(ctx, b, pol, available, hours, now, true)
	}
	return candidates, nil
}

func cloneHours(h map[string]float64) map[string]float64 {
	cp := make(map[string]float64, len(h))
	for k, v := range h {
		cp[k] = v
	}
	return cp
}

func breakdownJSON(b []scoring.Breakdown) string {
	bytes, err := json.Marshal(b)
	if err != nil {
		return "[]"
	}
	return string(bytes)
}

func fingerprint(pol policy.AssignmentPolicy) string {
	return fmt.Sprintf("gen:%d:mode:%s", pol.Generation, pol.Mode)
}

// withRetry runs fn with bounded exponential backoff (three attempts,
// §7 "bounded exponential backoff, three attempts"), grounded on the
// teacher's idempotency-lock retry loop.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	backoff := storeRetryBase
	var result T
	var err error
	for attempt := 0; attempt < maxStoreRetries; attempt++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > storeRetryMax {
			backoff = storeRetryMax
		}
	}
	return result, err
}
