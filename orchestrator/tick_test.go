package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/pool"
	"github.com/lucidrelay/interpassign/store"
)

func TestRefreshRosterDetectsNewcomerOnFirstCall(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	engine, bookings := newTestEngine(t, policy.DefaultPolicy(), now)
	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})

	result, err := engine.RefreshRoster(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Newcomers) != 1 || result.Newcomers[0] != "alice" {
		t.Errorf("expected alice flagged newcomer on first roster snapshot, got %+v", result.Newcomers)
	}
	if !engine.newcomers["alice"] {
		t.Error("expected the engine's newcomer set to carry alice forward for scoring")
	}
}

func TestRefreshRosterDetectsDeparted(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	engine, bookings := newTestEngine(t, policy.DefaultPolicy(), now)
	alice := &store.Interpreter{ID: "alice", Active: true}
	bookings.PutInterpreter(alice)

	if _, err := engine.RefreshRoster(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alice.Active = false
	bookings.PutInterpreter(alice)

	result, err := engine.RefreshRoster(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Departed) != 1 || result.Departed[0] != "alice" {
		t.Errorf("expected alice flagged departed once deactivated, got %+v", result.Departed)
	}
}

func TestTickReturnsNilWhenPoolEmpty(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	engine, _ := newTestEngine(t, policy.DefaultPolicy(), now)

	outcomes, err := engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes != nil {
		t.Errorf("expected no outcomes for an empty pool, got %+v", outcomes)
	}
}

func TestTickImmediateDrainsReadyEntry(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeNormal
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	b := &store.Booking{
		ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting,
		TimeStart: now.Add(24 * time.Hour), TimeEnd: now.Add(25 * time.Hour),
	}
	bookings.PutBooking(b)
	if _, err := engine.PoolMgr.Add(context.Background(), b, pol.Mode, poolThresholds(t, engine, store.MeetingGeneral, pol.Mode), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcomes, err := engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Kind != OutcomeAssigned || outcomes[0].InterpreterID != "alice" {
		t.Errorf("expected the one ready pool entry drained and assigned to alice, got %+v", outcomes)
	}
}

func TestTickBatchModeAssignsDistinctInterpretersAcrossConflictingEntries(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	pol := policy.DefaultPolicy()
	pol.Mode = policy.ModeBalance
	engine, bookings := newTestEngine(t, pol, now)

	bookings.PutInterpreter(&store.Interpreter{ID: "alice", Active: true})
	bookings.PutInterpreter(&store.Interpreter{ID: "bob", Active: true})

	start := now.Add(24 * time.Hour)
	b1 := &store.Booking{ID: 1, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting, TimeStart: start, TimeEnd: start.Add(time.Hour)}
	b2 := &store.Booking{ID: 2, MeetingType: store.MeetingGeneral, Status: store.StatusWaiting, TimeStart: start, TimeEnd: start.Add(time.Hour)}
	bookings.PutBooking(b1)
	bookings.PutBooking(b2)
	th := poolThresholds(t, engine, store.MeetingGeneral, pol.Mode)
	if _, err := engine.PoolMgr.Add(context.Background(), b1, pol.Mode, th, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := engine.PoolMgr.Add(context.Background(), b2, pol.Mode, th, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outcomes, err := engine.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected both pooled entries drained by the batch pass, got %d", len(outcomes))
	}

	seen := map[string]bool{}
	for _, o := range outcomes {
		if o.Kind != OutcomeAssigned {
			t.Errorf("expected both entries assigned, got %+v", o)
			continue
		}
		seen[o.InterpreterID] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("expected alice and bob each picked up one of the two overlapping bookings, got %+v", outcomes)
	}
}

// poolThresholds mirrors the threshold resolution Assign performs before
// handing a booking to the Pool Manager, so tests can seed PoolMgr
// directly without going through Assign's pooling branch.
func poolThresholds(t *testing.T, engine *Engine, mt store.MeetingType, mode policy.Mode) pool.Thresholds {
	t.Helper()
	resolved, err := engine.Resolver.Resolve(context.Background(), mt)
	if err != nil {
		t.Fatalf("unexpected error resolving thresholds: %v", err)
	}
	return pool.Thresholds{ThresholdDays: resolved.GeneralThresholdDays, Priority: priorityFor(mode)}
}
