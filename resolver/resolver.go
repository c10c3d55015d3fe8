// Package resolver implements the Mode & Threshold Resolver (C2): it looks
// up urgency/general thresholds and scoring weights for a (meetingType,
// mode) pair, caching results for 5 minutes and flushing on policy writes.
//
// It depends on both store and policy, which is why this logic does not
// live inside the policy package itself: policy stays free of any store
// dependency so store (which needs policy's types for its PolicyStore
// interface) never has to import it back.
package resolver

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lucidrelay/interpassign/observability"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/store"
)

const defaultCacheTTL = 5 * time.Minute

// Resolved is the C2 contract's return value.
type Resolved struct {
	UrgentThresholdDays  int
	GeneralThresholdDays int
	Weights              policy.Weights
	Mode                 policy.Mode
}

type cacheEntry struct {
	value      Resolved
	generation int64
	expiresAt  time.Time
}

// RemoteCache is the distributed tier behind Resolve's in-process cache,
// satisfied structurally by *store.RedisPolicyCache — resolver never
// imports that type directly, it just shares its method shape. Backing a
// Resolver with one lets every engine process serve a warm cache instead
// of hitting PolicyStore on its first Resolve of each (meetingType,
// generation) pair (§5 "policy-cache invalidation").
type RemoteCache interface {
	Get(ctx context.Context, key string, dest interface{}) (generation int64, ok bool, err error)
	Put(ctx context.Context, key string, value interface{}, generation int64, ttl time.Duration) error
}

// Resolver caches PolicyStore lookups in-process, keyed by (meetingType,
// policy generation). A policy write bumps the generation, which
// invalidates every cached entry on next read without an explicit flush
// call.
type Resolver struct {
	policyStore store.PolicyStore
	clock       store.Clock
	cacheTTL    time.Duration
	remote      RemoteCache

	mu    sync.RWMutex
	cache map[store.MeetingType]cacheEntry

	lastGeneration int64
}

// New builds a Resolver over policyStore, using clock for cache aging and
// caching entries for defaultCacheTTL (§6 POLICY_CACHE_SECONDS default).
func New(policyStore store.PolicyStore, clock store.Clock) *Resolver {
	return NewWithTTL(policyStore, clock, defaultCacheTTL)
}

// NewWithTTL is New with an explicit cache TTL, wired from config.Config's
// POLICY_CACHE_SECONDS.
func NewWithTTL(policyStore store.PolicyStore, clock store.Clock, ttl time.Duration) *Resolver {
	return &Resolver{
		policyStore: policyStore,
		clock:       clock,
		cacheTTL:    ttl,
		cache:       make(map[store.MeetingType]cacheEntry),
	}
}

// NewWithRemoteCache is NewWithTTL plus a distributed cache tier shared
// across engine processes, so a cold in-process cache (e.g. right after a
// new CLI invocation starts) still avoids a PolicyStore round trip when
// another worker already resolved the same pair.
func NewWithRemoteCache(policyStore store.PolicyStore, clock store.Clock, ttl time.Duration, remote RemoteCache) *Resolver {
	r := NewWithTTL(policyStore, clock, ttl)
	r.remote = remote
	return r
}

// Resolve returns thresholds+weights for mt under the current policy's
// mode. Falls back to meeting-type defaults, then to the hard-coded
// defaults of §4.1/§4.6 if the policy store has no row for this pair.
// Never returns NaN weights; a missing row logs a warning and serves
// defaults rather than failing the caller.
func (r *Resolver) Resolve(ctx context.Context, mt store.MeetingType) (Resolved, error) {
	pol, err := r.policyStore.GetPolicy(ctx)
	if err != nil {
		return Resolved{}, err
	}

	if cached, ok := r.lookup(mt, pol.Generation); ok {
		return cached, nil
	}

	if r.remote != nil {
		var remoteValue Resolved
		gen, ok, err := r.remote.Get(ctx, remoteCacheKey(mt), &remoteValue)
		if err != nil {
			log.Printf("resolver: remote cache get failed for %s: %v", mt, err)
		} else if ok && gen == pol.Generation {
			r.store(mt, pol.Generation, remoteValue)
			return remoteValue, nil
		}
	}

	resolved := r.resolveUncached(ctx, mt, pol)
	r.store(mt, pol.Generation, resolved)
	if r.remote != nil {
		if err := r.remote.Put(ctx, remoteCacheKey(mt), resolved, pol.Generation, r.cacheTTL); err != nil {
			log.Printf("resolver: remote cache put failed for %s: %v", mt, err)
		}
	}
	return resolved, nil
}

func remoteCacheKey(mt store.MeetingType) string {
	return "interpassign:resolved:" + string(mt)
}

func (r *Resolver) lookup(mt store.MeetingType, generation int64) (Resolved, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[mt]
	if !ok {
		return Resolved{}, false
	}
	if entry.generation != generation {
		return Resolved{}, false
	}
	if r.clock.Now().After(entry.expiresAt) {
		return Resolved{}, false
	}
	return entry.value, true
}

func (r *Resolver) store(mt store.MeetingType, generation int64, value Resolved) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[mt] = cacheEntry{
		value:      value,
		generation: generation,
		expiresAt:  r.clock.Now().Add(r.cacheTTL),
	}
}

// Flush drops every cached entry, used by callers that write policy
// directly against the store and want the next Resolve to observe it
// immediately rather than waiting on the generation check.
func (r *Resolver) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[store.MeetingType]cacheEntry)
	observability.PolicyCacheInvalidations.Inc()
}

func (r *Resolver) resolveUncached(ctx context.Context, mt store.MeetingType, pol policy.AssignmentPolicy) Resolved {
	weights := pol.EffectiveWeights()

	threshold, ok, err := r.policyStore.GetThresholds(ctx, mt, pol.Mode)
	if err != nil {
		log.Printf("resolver: threshold lookup failed for %s/%s: %v, using defaults", mt, pol.Mode, err)
		ok = false
	}
	if !ok {
		if err == nil {
			log.Printf("resolver: no threshold row for %s/%s, using defaults", mt, pol.Mode)
		}
		threshold = defaultThreshold(mt, pol.Mode)
	}
	// §4.1's BALANCE row floors generalThresholdDays at 3 regardless of
	// whether the value came from a stored ModeThreshold row or the
	// no-row fallback above.
	if pol.Mode == policy.ModeBalance && threshold.GeneralThresholdDays < 3 {
		threshold.GeneralThresholdDays = 3
	}

	return Resolved{
		UrgentThresholdDays:  threshold.UrgentThresholdDays,
		GeneralThresholdDays: threshold.GeneralThresholdDays,
		Weights:              weights,
		Mode:                 pol.Mode,
	}
}

// defaultThreshold implements the §4.1 table's hard-coded fallbacks when
// the policy store has no row for this (meetingType, mode) pair.
func defaultThreshold(mt store.MeetingType, mode policy.Mode) policy.ModeThreshold {
	general := generalDefault(mt)

	switch mode {
	case policy.ModeUrgent:
		return policy.ModeThreshold{UrgentThresholdDays: 0, GeneralThresholdDays: 0, PriorityValue: 1}
	case policy.ModeBalance:
		return policy.ModeThreshold{UrgentThresholdDays: 1, GeneralThresholdDays: general, PriorityValue: 2}
	default: // NORMAL, CUSTOM
		return policy.ModeThreshold{UrgentThresholdDays: 1, GeneralThresholdDays: general, PriorityValue: 3}
	}
}

// generalDefault is the meeting-type-specific fallback used when no
// explicit threshold row exists.
func generalDefault(mt store.MeetingType) int {
	switch mt {
	case store.MeetingDR, store.MeetingPresident:
		return 2
	case store.MeetingVIP, store.MeetingUrgent:
		return 3
	case store.MeetingWeekly:
		return 7
	default:
		return 5
	}
}
