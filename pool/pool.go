// Package pool implements the Pool Manager (C1): it tracks bookings
// awaiting an assignment decision, computes readiness and deadlines per
// mode, and hands out single-writer leases for processing.
package pool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lucidrelay/interpassign/observability"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/store"
)

// State is a PoolEntry's position in pending → ready → processing →
// {assigned, escalated, failed}.
type State string

const (
	StatePending    State = "pending"
	StateReady      State = "ready"
	StateProcessing State = "processing"
	StateAssigned   State = "assigned"
	StateEscalated  State = "escalated"
	StateFailed     State = "failed"
)

const (
	maxAttempts         = 3
	failedRetryDelay    = 2 * time.Minute
	deadlineOverrideGap = 24 * time.Hour
)

// PoolEntry is one booking awaiting decision (§3).
type PoolEntry struct {
	BookingID          int64
	MeetingType        store.MeetingType
	TimeStart          time.Time
	TimeEnd            time.Time
	Mode               policy.Mode
	ThresholdDays       int
	DeadlineTime        time.Time
	PoolEntryTime       time.Time
	ProcessingPriority  int // 1 = highest
	BatchID             string
	Attempts            int
	State               State

	leaseOwner    string
	leaseExpiry   time.Time
	failedAt      time.Time
	index         int // heap.Interface bookkeeping
}

// Snapshot is a read-only copy of a PoolEntry, safe to hand to callers.
type Snapshot = PoolEntry

// ErrNotFound is returned by operations addressing a bookingId not in the
// pool.
var ErrNotFound = errors.New("pool: booking not in pool")

// ErrAlreadyLeased names the case where an entry is not in state ready
// (another writer holds it, or it has already resolved). Lease reports that
// case as ok=false with a nil error and does not return this value.
var ErrAlreadyLeased = errors.New("pool: entry not ready for lease")

// readyHeap orders ready entries by ProcessingPriority first (lower wins),
// then by DeadlineTime, mirroring the scheduler's priority+deadline
// tie-break in the teacher's TaskQueue. Only the root is guaranteed
// minimal by container/heap — ListReady sorts its snapshot explicitly
// rather than relying on this slice's raw iteration order.
type readyHeap []*PoolEntry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].ProcessingPriority != h[j].ProcessingPriority {
		return h[i].ProcessingPriority < h[j].ProcessingPriority
	}
	return h[i].DeadlineTime.Before(h[j].DeadlineTime)
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x interface{}) {
	e := x.(*PoolEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[0 : n-1]
	return e
}

// Store persists PoolEntry state across Manager instances so pool
// membership survives a process restart the same way BookingStore and
// PolicyStore do (§5 "parallel workers sharing a single authoritative
// store"). A Manager built with New (no Store) stays purely in-memory,
// which is fine for tests and for a single long-lived process.
type Store interface {
	LoadAll(ctx context.Context) ([]*PoolEntry, error)
	Save(ctx context.Context, e *PoolEntry) error
	Delete(ctx context.Context, bookingID int64) error
}

// Manager is the concurrency-safe Pool Manager. One PoolEntry per booking;
// the engine is its only writer (§3 ownership note).
type Manager struct {
	mu       sync.Mutex
	entries  map[int64]*PoolEntry
	ready    readyHeap
	watchdog time.Duration
	persist  Store
}

// New builds an empty, in-memory-only Manager. watchdog is the interval
// after which a processing lease with no heartbeat is considered abandoned
// and reclaimable (§4.1 "Failure semantics").
func New(watchdog time.Duration) *Manager {
	return &Manager{
		entries:  make(map[int64]*PoolEntry),
		ready:    make(readyHeap, 0),
		watchdog: watchdog,
	}
}

// NewWithStore builds a Manager backed by persist, loading whatever state
// a previous process left behind before returning.
func NewWithStore(ctx context.Context, watchdog time.Duration, persist Store) (*Manager, error) {
	m := New(watchdog)
	m.persist = persist

	loaded, err := persist.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pool state: %w", err)
	}
	for _, e := range loaded {
		e.index = -1
		m.entries[e.BookingID] = e
		if e.State == StateReady {
			heap.Push(&m.ready, e)
		}
	}
	return m, nil
}

func (m *Manager) save(ctx context.Context, e *PoolEntry) error {
	if m.persist == nil {
		return nil
	}
	cp := *e
	return m.persist.Save(ctx, &cp)
}

func (m *Manager) delete(ctx context.Context, bookingID int64) error {
	if m.persist == nil {
		return nil
	}
	return m.persist.Delete(ctx, bookingID)
}

// saveBestEffort is used by the background reconciliation passes (lease
// reclaim, failed-entry requeue): losing one of these writes to a transient
// store failure should not block the tick that triggered it.
func (m *Manager) saveBestEffort(ctx context.Context, e *PoolEntry) {
	if err := m.save(ctx, e); err != nil {
		fmt.Printf("pool: best-effort persist failed for booking %d: %v\n", e.BookingID, err)
	}
}

// Thresholds carries the values the Mode & Threshold Resolver (C2)
// computed for a given (meetingType, mode) pair, so Add stays free of a
// dependency on the resolver package.
type Thresholds struct {
	ThresholdDays int
	Priority      int
}

// Add inserts booking into the pool under mode, idempotent by bookingId:
// calling Add twice for the same booking returns the existing entry
// unchanged rather than creating a duplicate.
func (m *Manager) Add(ctx context.Context, b *store.Booking, mode policy.Mode, th Thresholds, now time.Time) (*PoolEntry, error) {
	m.mu.Lock()
	if existing, ok := m.entries[b.ID]; ok {
		cp := *existing
		m.mu.Unlock()
		return &cp, nil
	}

	deadline := b.TimeStart
	if mode == policy.ModeBalance || mode == policy.ModeNormal || mode == policy.ModeCustom {
		if b.TimeStart.Sub(now) <= deadlineOverrideGap {
			deadline = now
		}
	}

	entry := &PoolEntry{
		BookingID:          b.ID,
		MeetingType:        b.MeetingType,
		TimeStart:          b.TimeStart,
		TimeEnd:            b.TimeEnd,
		Mode:               mode,
		ThresholdDays:      th.ThresholdDays,
		DeadlineTime:       deadline,
		PoolEntryTime:      now,
		ProcessingPriority: th.Priority,
		State:              StatePending,
	}
	m.entries[b.ID] = entry
	m.promoteIfReady(entry, now)
	cp := *entry
	m.mu.Unlock()

	if err := m.save(ctx, &cp); err != nil {
		return &cp, fmt.Errorf("persist pool entry: %w", err)
	}
	return &cp, nil
}

// promoteIfReady must be called with mu held.
func (m *Manager) promoteIfReady(e *PoolEntry, now time.Time) {
	if e.State != StatePending && e.State != StateFailed {
		return
	}
	readyAt := e.TimeStart.Add(-time.Duration(e.ThresholdDays) * 24 * time.Hour)
	if !now.Before(readyAt) || !now.Before(e.DeadlineTime) {
		e.State = StateReady
		heap.Push(&m.ready, e)
	}
}

// ListReady returns every entry whose readiness condition holds as of now,
// ordered by processing priority then deadline (§9's mandatory oldest-
// deadline-first draining policy), without leasing them.
func (m *Manager) ListReady(ctx context.Context, now time.Time) []*PoolEntry {
	m.mu.Lock()
	reclaimed := m.reclaimExpiredLeases(now)
	requeued := m.requeueFailed(now)

	result := make([]*PoolEntry, 0, len(m.ready))
	for _, e := range m.ready {
		if e.State == StateReady {
			cp := *e
			result = append(result, &cp)
		}
	}

	changed := make([]*PoolEntry, 0, len(reclaimed)+len(requeued))
	for _, e := range reclaimed {
		cp := *e
		changed = append(changed, &cp)
	}
	for _, e := range requeued {
		cp := *e
		changed = append(changed, &cp)
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].ProcessingPriority != result[j].ProcessingPriority {
			return result[i].ProcessingPriority < result[j].ProcessingPriority
		}
		return result[i].DeadlineTime.Before(result[j].DeadlineTime)
	})

	for _, e := range changed {
		m.saveBestEffort(ctx, e)
	}
	return result
}

// ListPastDeadline returns ready/pending entries whose DeadlineTime has
// already passed as of now — candidates for the Batch Optimiser's
// emergency short-circuit (§4.7).
func (m *Manager) ListPastDeadline(now time.Time) []*PoolEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*PoolEntry
	for _, e := range m.entries {
		if (e.State == StateReady || e.State == StatePending) && !now.Before(e.DeadlineTime) {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result
}

// Lease atomically transitions bookingId from ready to processing. ok is
// false (not an error) if another writer already holds the lease or the
// entry has already resolved.
func (m *Manager) Lease(ctx context.Context, bookingID int64, owner string, now time.Time) (ok bool, err error) {
	m.mu.Lock()
	e, found := m.entries[bookingID]
	if !found {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	if e.State != StateReady {
		m.mu.Unlock()
		return false, nil
	}
	e.State = StateProcessing
	e.leaseOwner = owner
	e.leaseExpiry = now.Add(m.watchdog)
	e.Attempts++
	if e.index >= 0 {
		heap.Remove(&m.ready, e.index)
	}
	cp := *e
	m.mu.Unlock()

	if err := m.save(ctx, &cp); err != nil {
		return false, fmt.Errorf("persist pool entry: %w", err)
	}
	return true, nil
}

// Resolve transitions a processing entry to its terminal (or retry) state.
func (m *Manager) Resolve(ctx context.Context, bookingID int64, final State, now time.Time) error {
	m.mu.Lock()
	e, ok := m.entries[bookingID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if final == StateFailed {
		if e.Attempts >= maxAttempts {
			e.State = StateEscalated
		} else {
			e.State = StateFailed
			e.failedAt = now
		}
	} else {
		e.State = final
	}
	cp := *e
	m.mu.Unlock()

	if err := m.save(ctx, &cp); err != nil {
		return fmt.Errorf("persist pool entry: %w", err)
	}
	return nil
}

// requeueFailed re-promotes failed entries whose retry delay has elapsed.
// Must be called with mu held; returns the entries it mutated.
func (m *Manager) requeueFailed(now time.Time) []*PoolEntry {
	var changed []*PoolEntry
	for _, e := range m.entries {
		if e.State == StateFailed && now.Sub(e.failedAt) >= failedRetryDelay {
			e.State = StatePending
			m.promoteIfReady(e, now)
			changed = append(changed, e)
		}
	}
	return changed
}

// reclaimExpiredLeases moves processing entries whose watchdog has elapsed
// back to ready, mirroring the teacher's LockJanitor fencing pass. Must be
// called with mu held; returns the entries it mutated.
func (m *Manager) reclaimExpiredLeases(now time.Time) []*PoolEntry {
	var changed []*PoolEntry
	for _, e := range m.entries {
		if e.State == StateProcessing && now.After(e.leaseExpiry) {
			e.State = StateReady
			e.leaseOwner = ""
			heap.Push(&m.ready, e)
			observability.LeaseReclaims.Inc()
			changed = append(changed, e)
		}
	}
	return changed
}

// Remove deletes a booking's entry entirely, used once an assignment or
// escalation has been durably written and the pool no longer needs to
// track it.
func (m *Manager) Remove(ctx context.Context, bookingID int64) error {
	m.mu.Lock()
	e, ok := m.entries[bookingID]
	if ok {
		if e.index >= 0 {
			heap.Remove(&m.ready, e.index)
		}
		delete(m.entries, bookingID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := m.delete(ctx, bookingID); err != nil {
		return fmt.Errorf("delete persisted pool entry: %w", err)
	}
	return nil
}

// Get returns a copy of the entry for bookingID, if present.
func (m *Manager) Get(bookingID int64) (*PoolEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[bookingID]
	if !ok {
		return nil, false
	}
	cp := *e
	return &cp, true
}

// Stats summarises the pool's current population by state.
type Stats struct {
	Pending    int
	Ready      int
	Processing int
	Failed     int
	Total      int
}

// Stats returns the current per-state population counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Stats
	for _, e := range m.entries {
		switch e.State {
		case StatePending:
			s.Pending++
		case StateReady:
			s.Ready++
		case StateProcessing:
			s.Processing++
		case StateFailed:
			s.Failed++
		}
	}
	s.Total = len(m.entries)

	observability.PoolDepth.WithLabelValues(string(StatePending)).Set(float64(s.Pending))
	observability.PoolDepth.WithLabelValues(string(StateReady)).Set(float64(s.Ready))
	observability.PoolDepth.WithLabelValues(string(StateProcessing)).Set(float64(s.Processing))
	observability.PoolDepth.WithLabelValues(string(StateFailed)).Set(float64(s.Failed))

	return s
}
