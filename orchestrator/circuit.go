package orchestrator

import (
	"sync"
	"time"
)

// circuitState mirrors the teacher's CircuitBreaker: Closed/HalfOpen/Open
// with a cooldown and a limited-test-traffic recovery phase.
type circuitState int

const (
	circuitClosed circuitState = iota
	circuitHalfOpen
	circuitOpen
)

// storeCircuitBreaker gates the batch-drain loop (Tick) so a struggling
// BookingStore doesn't get hammered by every ready pool entry at once; it
// does not gate individual Assign calls, which already have their own
// bounded retries.
type storeCircuitBreaker struct {
	mu sync.Mutex

	state circuitState

	failureThreshold int
	cooldownPeriod   time.Duration
	testLimit        int

	consecutiveFailures int
	openedAt            time.Time
	testCount           int
}

func newStoreCircuitBreaker() *storeCircuitBreaker {
	return &storeCircuitBreaker{
		state:            circuitClosed,
		failureThreshold: 5,
		cooldownPeriod:   30 * time.Second,
		testLimit:        5,
	}
}

// Admit reports whether the next batch-drain tick should proceed.
func (cb *storeCircuitBreaker) Admit(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == circuitOpen && now.Sub(cb.openedAt) > cb.cooldownPeriod {
		cb.state = circuitHalfOpen
		cb.testCount = 0
	}

	switch cb.state {
	case circuitOpen:
		return false
	case circuitHalfOpen:
		if cb.testCount >= cb.testLimit {
			return false
		}
		cb.testCount++
		return true
	default:
		return true
	}
}

// RecordResult updates the breaker after a batch-drain tick completes.
func (cb *storeCircuitBreaker) RecordResult(now time.Time, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ok {
		cb.consecutiveFailures = 0
		if cb.state == circuitHalfOpen && cb.testCount >= cb.testLimit {
			cb.state = circuitClosed
		}
		return
	}

	cb.consecutiveFailures++
	if cb.state == circuitHalfOpen || cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = circuitOpen
		cb.openedAt = now
		cb.testCount = 0
	}
}

// stateValue reports the current state as a gauge value (0=closed,
// 1=half_open, 2=open) for the store-circuit metric.
func (cb *storeCircuitBreaker) stateValue() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return float64(cb.state)
}
