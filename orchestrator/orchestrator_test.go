package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/lucidrelay/interpassign/conflict"
	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/fairness"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/pool"
	"github.com/lucidrelay/interpassign/resolver"
	"github.com/lucidrelay/interpassign/store"
)

func newTestEngine(t *testing.T, pol policy.AssignmentPolicy, now time.Time) (*Engine, *store.MemoryBookingStore) {
	t.Helper()
	bookings := store.NewMemoryBookingStore()
	policies := store.NewMemoryPolicyStore(pol)
	logs := store.NewStdLogSink()
	clock := store.NewFixedClock(now)

	res := resolver.New(policies, clock)
	poolMgr := pool.New(5 * time.Minute)
	conflicts := conflict.New(bookings)
	fair := fairness.New(bookings)
	dr := drhistory.New(bookings)

	return New(bookings, policies, logs, clock, res, poolMgr, conflicts, fair, dr), bookings
}

func TestAssignUrgentModeScoresImmediately(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeUrgent
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	bookings.PutBooking(&store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: now.Add(48 * time.Hour), TimeEnd: now.Add(49 * time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeAssigned || outcome.InterpreterID != "alice" {
		t.Errorf("expected alice assigned immediately in URGENT mode, got %+v", outcome)
	}
}

func TestAssignPoolsWhenFarFromThreshold(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeNormal
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	bookings.PutBooking(&store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: now.Add(60 * 24 * time.Hour), TimeEnd: now.Add(60*24*time.Hour + time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomePooled {
		t.Errorf("expected booking pooled when far from its threshold, got %+v", outcome)
	}
}

func TestAssignEscalatesWhenNoInterpreterEligible(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeUrgent
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutBooking(&store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeEscalated {
		t.Errorf("expected escalation with zero active interpreters, got %+v", outcome)
	}
}

func TestAssignIsIdempotentForAlreadyApprovedBooking(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	engine, bookings := newTestEngine(t, policy.DefaultPolicy(), now)

	bookings.PutBooking(&store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusApproved,
		AssignedInterpreter: "alice",
		TimeStart:            now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeAssigned || outcome.InterpreterID != "alice" {
		t.Errorf("expected the already-approved booking returned as-is, got %+v", outcome)
	}
}

func TestAssignDisabledAutoAssignEscalatesWithoutScoring(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.AutoAssignEnabled = false
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	bookings.PutBooking(&store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: now.Add(time.Hour), TimeEnd: now.Add(2 * time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeEscalated || outcome.Reason != "disabled" {
		t.Errorf("expected disabled escalation, got %+v", outcome)
	}
}

func TestAssignSkipsConflictingInterpreter(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeUrgent
	engine, bookings := newTestEngine(t, pol, now)

	start := now.Add(time.Hour)
	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	bookings.PutInterpreter(&store.Interpreter{ID: "bob", Active: true})
	bookings.PutBooking(&store.Booking{
		ID: 1, AssignedInterpreter: "alice", Status: store.StatusApproved,
		TimeStart: start, TimeEnd: start.Add(time.Hour),
	})
	bookings.PutBooking(&store.Booking{
		ID: 2, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: start, TimeEnd: start.Add(time.Hour),
	})

	outcome, err := engine.Assign(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.InterpreterID != "bob" {
		t.Errorf("expected bob assigned since alice conflicts, got %+v", outcome)
	}
}
