package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lucidrelay/interpassign/batch"
	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/dynamicpool"
	"github.com/lucidrelay/interpassign/observability"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/pool"
	"github.com/lucidrelay/interpassign/scoring"
	"github.com/lucidrelay/interpassign/store"
)

const batchTopK = 3

// RefreshRoster recomputes the interpreter roster delta (C9) against the
// snapshot taken by the previous RefreshRoster call, then rolls the
// snapshot forward. Safe to call before every Tick. The engine keeps no
// separate DR-history table to purge on departure: DR state is derived
// live from BookingStore.LastDR, so the roster snapshot alone is enough
// to track who is newcomer/departed for the fairness adjustment.
func (e *Engine) RefreshRoster(ctx context.Context) (dynamicpool.Result, error) {
	interpreters, err := e.Bookings.ListActiveInterpreters(ctx)
	if err != nil {
		return dynamicpool.Result{}, err
	}
	ids := make([]string, 0, len(interpreters))
	for _, i := range interpreters {
		ids = append(ids, i.ID)
	}

	now := e.Clock.Now()
	pol, err := e.Policies.GetPolicy(ctx)
	if err != nil {
		return dynamicpool.Result{}, err
	}
	windowHours, err := e.Fairness.Hours(ctx, now, pol.FairnessWindowDays)
	if err != nil {
		return dynamicpool.Result{}, err
	}
	hoursLookup := func(interpreterID string) (float64, bool) {
		h, hasAny := windowHours[interpreterID]
		return h, hasAny
	}

	result, err := dynamicpool.Adjust(ctx, e.roster, ids, hoursLookup, nil)
	if err != nil {
		return dynamicpool.Result{}, err
	}
	e.roster = dynamicpool.NewSnapshot(ids)
	e.newcomers = result.NewcomerSet()
	e.adjustmentFactor = result.AdjustmentFactor
	observability.RosterChanges.WithLabelValues("newcomer").Add(float64(len(result.Newcomers)))
	observability.RosterChanges.WithLabelValues("departed").Add(float64(len(result.Departed)))
	return result, nil
}

// Tick drains due pool entries: in BALANCE mode the whole batch goes to
// the Batch Optimiser (C7); every other mode processes each ready entry
// through the normal immediate-scoring path. Gated by the store circuit
// breaker so a struggling BookingStore throttles the whole drain instead
// of failing every entry one at a time.
func (e *Engine) Tick(ctx context.Context) ([]Outcome, error) {
	if !e.limiter.Allow() {
		return nil, nil
	}

	now := e.Clock.Now()

	if _, err := e.RefreshRoster(ctx); err != nil {
		return nil, &StoreUnavailableError{Op: "refreshRoster", Err: err}
	}

	due := e.PoolMgr.ListReady(ctx, now)
	if len(due) == 0 {
		return nil, nil
	}

	if !e.breaker.Admit(now) {
		return nil, nil
	}

	pol, err := e.Policies.GetPolicy(ctx)
	if err != nil {
		e.breaker.RecordResult(now, false)
		return nil, &StoreUnavailableError{Op: "getPolicy", Err: err}
	}

	started := now
	var outcomes []Outcome
	if pol.Mode == policy.ModeBalance {
		outcomes, err = e.tickBatch(ctx, due, pol, now)
	} else {
		outcomes, err = e.tickImmediate(ctx, due, now)
	}
	e.breaker.RecordResult(now, err == nil)
	observability.StoreCircuitState.Set(e.breaker.stateValue())
	observability.RunLoopDuration.Observe(e.Clock.Now().Sub(started).Seconds())
	return outcomes, err
}

func (e *Engine) tickImmediate(ctx context.Context, due []*pool.PoolEntry, now time.Time) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(due))
	for _, entry := range due {
		leased, err := e.PoolMgr.Lease(ctx, entry.BookingID, "engine", now)
		if err != nil || !leased {
			continue
		}
		outcome, _ := e.Assign(ctx, entry.BookingID)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (e *Engine) tickBatch(ctx context.Context, due []*pool.PoolEntry, pol policy.AssignmentPolicy, now time.Time) ([]Outcome, error) {
	limit := standardBatchLimit(due)
	leased := make([]*pool.PoolEntry, 0, len(due))
	for _, entry := range due {
		if len(leased) >= limit {
			break
		}
		ok, err := e.PoolMgr.Lease(ctx, entry.BookingID, "engine-batch", now)
		if err != nil || !ok {
			continue
		}
		leased = append(leased, entry)
	}
	if len(leased) == 0 {
		return nil, nil
	}

	interpreters, err := e.Bookings.ListActiveInterpreters(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(interpreters))
	for _, i := range interpreters {
		ids = append(ids, i.ID)
	}

	hours, err := e.Fairness.Hours(ctx, now, pol.FairnessWindowDays)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := hours[id]; !ok {
			hours[id] = 0
		}
	}

	entries := make([]batch.Entry, 0, len(leased))
	for _, pe := range leased {
		b, err := e.Bookings.GetBooking(ctx, pe.BookingID)
		if err != nil || b == nil {
			e.resolveFailed(ctx, pe.BookingID, now)
			continue
		}

		resolved, err := e.Resolver.Resolve(ctx, b.MeetingType)
		if err != nil {
			e.resolveFailed(ctx, pe.BookingID, now)
			continue
		}
		daysUntilStart := b.TimeStart.Sub(now).Hours() / 24.0
		urgency := scoring.Urgency(daysUntilStart, resolved.UrgentThresholdDays, resolved.GeneralThresholdDays)

		available, err := e.Conflicts.FilterAvailable(ctx, ids, b.TimeStart, b.TimeEnd)
		if err != nil {
			e.resolveFailed(ctx, pe.BookingID, now)
			continue
		}
		candidates, err := e.buildCandidates(ctx, b, pol, available, hours, now)
		if err != nil {
			e.resolveFailed(ctx, pe.BookingID, now)
			continue
		}
		for _, c := range candidates {
			if c.IsDR {
				observability.DRConsecutiveOutcomes.WithLabelValues(drOutcomeLabel(c.DR)).Inc()
			}
		}
		ranked := scoring.Rank(candidates, hours, urgency, pol.EffectiveWeights(), pol.MaxGapHours, pol.FairnessWindowDays, e.adjustmentFactor)

		entries = append(entries, batch.Entry{
			BookingID:    pe.BookingID,
			TimeStart:    b.TimeStart,
			TimeEnd:      b.TimeEnd,
			DeadlineTime: pe.DeadlineTime,
			Priority:     pe.ProcessingPriority,
			Candidates:   topEligible(ranked, batchTopK),
			Duration:     b.Duration(),
		})
	}

	result := batch.Plan(entries, hours, now)
	observability.BatchSize.Observe(float64(len(entries)))
	observability.BatchSpreadDelta.Observe(result.InitialSpread - result.FinalSpread)

	outcomes := make([]Outcome, 0, len(result.Picks))
	for _, pick := range result.Picks {
		if pick.NoCandidate {
			o, _ := e.escalate(ctx, pick.BookingID, "no eligible interpreter", nil, true)
			outcomes = append(outcomes, o)
			continue
		}

		committed, err := withRetry(ctx, func() (bool, error) {
			return e.Bookings.CommitAssignment(ctx, pick.BookingID, pick.InterpreterID)
		})
		if err != nil || !committed {
			o, _ := e.escalate(ctx, pick.BookingID, "conflict_after_retries", nil, true)
			outcomes = append(outcomes, o)
			continue
		}

		e.appendLog(ctx, store.AssignmentLog{
			BookingID:         pick.BookingID,
			Outcome:           "assigned",
			Reason:            "batch_optimised",
			PolicyFingerprint: fingerprint(pol),
			Timestamp:         now,
		})
		e.removeFromPool(ctx, pick.BookingID)
		outcomes = append(outcomes, Outcome{Kind: OutcomeAssigned, InterpreterID: pick.InterpreterID, Score: pick.Score})
	}

	e.appendLog(ctx, store.AssignmentLog{
		Outcome: "batch_summary",
		Reason:  "spread_delta",
		ScoreBreakdown: fmt.Sprintf(`{"initial_spread":%.4f,"final_spread":%.4f,"entries":%d}`,
			result.InitialSpread, result.FinalSpread, len(entries)),
		Timestamp: now,
	})

	return outcomes, nil
}

// resolveFailed marks a leased pool entry failed when something short of
// the booking's own commit fails mid-batch (lookup, threshold resolution,
// conflict check, scoring). Best-effort: the entry stays leased-but-stale
// until its watchdog reclaims it if the persist write itself fails.
func (e *Engine) resolveFailed(ctx context.Context, bookingID int64, now time.Time) {
	if err := e.PoolMgr.Resolve(ctx, bookingID, pool.StateFailed, now); err != nil {
		fmt.Printf("pool resolve failed for booking %d: %v\n", bookingID, err)
	}
}

func standardBatchLimit(due []*pool.PoolEntry) int {
	entries := make([]batch.Entry, 0, len(due))
	for _, pe := range due {
		entries = append(entries, batch.Entry{TimeStart: pe.TimeStart})
	}
	return batch.BatchSize(entries)
}

func drOutcomeLabel(out drhistory.Outcome) string {
	switch {
	case out.Blocked:
		return "blocked"
	case out.PenaltyApplied && out.Reason == "consecutive DR override: penalty applied instead of block":
		return "overridden"
	case out.PenaltyApplied:
		return "penalised"
	case out.IsConsecutive:
		return "newcomer_grace"
	default:
		return "clear"
	}
}

func topEligible(ranked []scoring.Breakdown, k int) []scoring.Breakdown {
	var top []scoring.Breakdown
	for _, b := range ranked {
		if !b.Eligible {
			continue
		}
		top = append(top, b)
		if len(top) == k {
			break
		}
	}
	return top
}
