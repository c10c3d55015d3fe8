package pool

import (
	"context"
	"testing"
	"time"

	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/store"
)

func newBooking(id int64, start time.Time) *store.Booking {
	return &store.Booking{
		ID: id, MeetingType: store.MeetingGeneral,
		TimeStart: start, TimeEnd: start.Add(time.Hour),
	}
}

func TestAddIsIdempotentByBookingID(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(72*time.Hour))
	th := Thresholds{ThresholdDays: 2, Priority: 3}

	first, err := m.Add(ctx, b, policy.ModeNormal, th, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.Add(ctx, b, policy.ModeNormal, th, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.PoolEntryTime != second.PoolEntryTime {
		t.Error("calling Add twice for the same booking must return the existing entry, not a new one")
	}
	if m.Stats().Total != 1 {
		t.Errorf("expected exactly one pool entry, got %d", m.Stats().Total)
	}
}

func TestAddPromotesToReadyWhenThresholdReached(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(24*time.Hour))
	th := Thresholds{ThresholdDays: 2, Priority: 3}

	if _, err := m.Add(ctx, b, policy.ModeNormal, th, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := m.ListReady(ctx, now)
	if len(ready) != 1 {
		t.Fatalf("expected entry promoted to ready (within threshold+deadline-override gap), got %d ready", len(ready))
	}
}

func TestAddDoesNotPromoteWhenFarFromThreshold(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(30*24*time.Hour))
	th := Thresholds{ThresholdDays: 2, Priority: 3}

	if _, err := m.Add(ctx, b, policy.ModeNormal, th, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := m.ListReady(ctx, now)
	if len(ready) != 0 {
		t.Errorf("expected entry to remain pending, got %d ready", len(ready))
	}
}

func TestLeaseTransitionsReadyToProcessing(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(24*time.Hour))
	if _, err := m.Add(ctx, b, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: 3}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ok, err := m.Lease(ctx, 1, "worker-1", now)
	if err != nil || !ok {
		t.Fatalf("expected successful lease, got ok=%v err=%v", ok, err)
	}

	ok, err = m.Lease(ctx, 1, "worker-2", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("a second writer must not be able to lease an already-processing entry")
	}
}

func TestReclaimExpiredLeaseReturnsEntryToReady(t *testing.T) {
	ctx := context.Background()
	watchdog := time.Minute
	m := New(watchdog)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(24*time.Hour))
	if _, err := m.Add(ctx, b, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: 3}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Lease(ctx, 1, "worker-1", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := now.Add(2 * time.Minute)
	ready := m.ListReady(ctx, later)
	if len(ready) != 1 {
		t.Fatalf("expected the abandoned lease reclaimed back to ready, got %d ready", len(ready))
	}
}

func TestResolveFailedRetriesUntilMaxAttemptsThenEscalates(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(24*time.Hour))
	if _, err := m.Add(ctx, b, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: 3}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < maxAttempts; i++ {
		now = now.Add(failedRetryDelay)
		m.ListReady(ctx, now) // requeues a failed entry whose retry delay has elapsed
		ok, err := m.Lease(ctx, 1, "worker-1", now)
		if err != nil || !ok {
			t.Fatalf("attempt %d: expected lease to succeed, got ok=%v err=%v", i, ok, err)
		}
		if err := m.Resolve(ctx, 1, StateFailed, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	entry, ok := m.Get(1)
	if !ok {
		t.Fatal("expected entry still present")
	}
	if entry.State != StateEscalated {
		t.Errorf("expected entry escalated after %d failed attempts, got state %s", maxAttempts, entry.State)
	}
}

func TestRemoveDeletesEntry(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := newBooking(1, now.Add(24*time.Hour))
	if _, err := m.Add(ctx, b, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: 3}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Remove(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := m.Get(1); ok {
		t.Error("expected entry gone after Remove")
	}
}

func TestListReadyOrdersByPriorityThenDeadline(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	low := newBooking(1, now.Add(24*time.Hour))
	high := newBooking(2, now.Add(24*time.Hour))
	if _, err := m.Add(ctx, low, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: 3}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Add(ctx, high, policy.ModeUrgent, Thresholds{ThresholdDays: 2, Priority: 1}, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := m.ListReady(ctx, now)
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready entries, got %d", len(ready))
	}
	if ready[0].BookingID != 2 {
		t.Errorf("expected higher-priority booking first, got %d", ready[0].BookingID)
	}
}

func TestListReadySortsFullSlicePastHeapRoot(t *testing.T) {
	ctx := context.Background()
	m := New(5 * time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	priorities := []int{5, 3, 4, 1, 2}
	for i, p := range priorities {
		b := newBooking(int64(i+1), now.Add(24*time.Hour))
		if _, err := m.Add(ctx, b, policy.ModeNormal, Thresholds{ThresholdDays: 2, Priority: p}, now); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ready := m.ListReady(ctx, now)
	if len(ready) != len(priorities) {
		t.Fatalf("expected %d ready entries, got %d", len(priorities), len(ready))
	}
	for i := 1; i < len(ready); i++ {
		if ready[i-1].ProcessingPriority > ready[i].ProcessingPriority {
			t.Fatalf("ListReady must return entries sorted by priority, got %+v", ready)
		}
	}
}
