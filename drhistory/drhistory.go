// Package drhistory implements the DR History Tracker (C5): computes
// consecutive-DR state for a candidate interpreter and applies the
// configured block/penalise/override policy, including the dynamic-pool
// newcomer grace of C9.
package drhistory

import (
	"context"
	"time"

	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/store"
)

// Outcome is the per-candidate result of consecutive-DR evaluation.
type Outcome struct {
	IsConsecutive  bool
	Blocked        bool
	PenaltyApplied bool
	PenaltyAmount  float64
	Reason         string
}

// Tracker wraps a BookingStore for lastDR lookups.
type Tracker struct {
	bookings store.BookingStore
}

// New builds a Tracker over bookings.
func New(bookings store.BookingStore) *Tracker {
	return &Tracker{bookings: bookings}
}

// EvaluateInput carries everything Evaluate needs beyond the DR policy
// itself, since consecutive-DR evaluation only applies to meetingType=DR
// bookings and depends on the dynamic-pool newcomer signal from C9.
type EvaluateInput struct {
	CandidateID         string
	BookingTimeStart     time.Time
	DRType               string
	IsCriticalCoverage   bool // no other eligible interpreter
	NoAlternatives       bool // explicit override flag from the caller
	IsNewcomer           bool // C9: zero assignments in window, roster grew
}

// Evaluate computes the consecutive-DR Outcome for one candidate against
// one DR booking (§4.5). Only meaningful for DR bookings; callers must not
// invoke it for other meeting types.
func (t *Tracker) Evaluate(ctx context.Context, assignPolicy policy.AssignmentPolicy, in EvaluateInput) (Outcome, error) {
	pol := assignPolicy.DRPolicy
	filter := store.DRFilter{IncludePending: pol.IncludePendingInGlobal}
	if pol.Scope == policy.DRScopeByType {
		filter.DRType = in.DRType
	}

	last, err := t.bookings.LastDR(ctx, in.BookingTimeStart, filter)
	if err != nil {
		return Outcome{}, err
	}

	isConsecutive := last != nil && last.AssignedInterpreter == in.CandidateID
	out := Outcome{IsConsecutive: isConsecutive}
	if !isConsecutive {
		return out, nil
	}

	penalty := assignPolicy.EffectiveDRConsecutivePenalty()

	switch {
	case pol.ForbidConsecutive && (in.IsCriticalCoverage || in.NoAlternatives):
		out.PenaltyApplied = true
		out.PenaltyAmount = penalty
		out.Reason = "consecutive DR override: penalty applied instead of block"
	case pol.ForbidConsecutive:
		out.Blocked = true
		out.Reason = "consecutive DR assignment forbidden"
	default:
		out.PenaltyApplied = true
		out.PenaltyAmount = penalty
		out.Reason = "consecutive DR assignment penalised"
	}

	if in.IsNewcomer {
		out.Blocked = false
		out.PenaltyApplied = false
		out.PenaltyAmount = 0
		out.Reason = "newcomer grace: consecutive-DR penalty waived"
	}

	return out, nil
}
