// Package dynamicpool implements the Dynamic-Pool Adjuster (C9): it
// detects interpreter roster changes between runs, surfaces newcomers so
// the DR History Tracker can grant them penalty grace, and purges
// history for interpreters who have departed.
package dynamicpool

import "context"

// Snapshot is the roster state captured at the end of a previous run.
type Snapshot struct {
	InterpreterIDs map[string]bool
}

// Result is the roster delta computed against the current roster.
type Result struct {
	Newcomers        []string // present now, zero assignments in window
	Departed         []string // in snapshot, absent from current roster
	AdjustmentFactor float64
}

// HoursLookup reports whether an interpreter has any assignments in the
// current fairness window, used to decide whether a newly-seen
// interpreter counts as a "newcomer" (zero assignments) or simply wasn't
// in the prior snapshot for an unrelated reason.
type HoursLookup func(interpreterID string) (hours float64, hasAny bool)

// HistoryPurger removes any durable DR-history bookkeeping for an
// interpreter who has left the roster.
type HistoryPurger interface {
	PurgeInterpreter(ctx context.Context, interpreterID string) error
}

// Adjust computes the roster delta between prior and the current active
// interpreter IDs, and purges history for every departed interpreter via
// purger (a nil purger skips the purge step; the rest of the computation
// is still returned). Idempotent and safe to call before every run.
func Adjust(ctx context.Context, prior Snapshot, current []string, hours HoursLookup, purger HistoryPurger) (Result, error) {
	currentSet := make(map[string]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	var newcomers []string
	for _, id := range current {
		if prior.InterpreterIDs[id] {
			continue
		}
		if _, hasAny := hours(id); !hasAny {
			newcomers = append(newcomers, id)
		}
	}

	var departed []string
	for id := range prior.InterpreterIDs {
		if !currentSet[id] {
			departed = append(departed, id)
		}
	}

	if purger != nil {
		for _, id := range departed {
			if err := purger.PurgeInterpreter(ctx, id); err != nil {
				return Result{}, err
			}
		}
	}

	factor := 1.0
	if len(current) > 0 {
		factor = 1 + (float64(len(newcomers))/float64(len(current)))*0.5
	}
	factor = clamp(factor, 1.0, 1.5)

	return Result{Newcomers: newcomers, Departed: departed, AdjustmentFactor: factor}, nil
}

// NewcomerSet is a convenience lookup built from Result.Newcomers, used
// by the orchestrator to decide drhistory.EvaluateInput.IsNewcomer per
// candidate without a linear scan per candidate.
func (r Result) NewcomerSet() map[string]bool {
	set := make(map[string]bool, len(r.Newcomers))
	for _, id := range r.Newcomers {
		set[id] = true
	}
	return set
}

// Snapshot captures the current roster for use as the next run's prior.
func NewSnapshot(interpreterIDs []string) Snapshot {
	set := make(map[string]bool, len(interpreterIDs))
	for _, id := range interpreterIDs {
		set[id] = true
	}
	return Snapshot{InterpreterIDs: set}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
