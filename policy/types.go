// Package policy defines the AssignmentPolicy configuration model, the
// mode-locked scoring weights, and per-(meetingType,mode) threshold lookup.
// It has no dependency on the store or domain-booking packages: it is pure
// configuration data plus validation.
package policy

import "fmt"

// Mode is the top-level engine operating profile.
type Mode string

const (
	ModeBalance Mode = "BALANCE"
	ModeUrgent  Mode = "URGENT"
	ModeNormal  Mode = "NORMAL"
	ModeCustom  Mode = "CUSTOM"
)

// DRPolicyScope controls how "the last DR booking" is computed.
type DRPolicyScope string

const (
	DRScopeGlobal  DRPolicyScope = "GLOBAL"
	DRScopeByType  DRPolicyScope = "BY_TYPE"
)

// DRPolicy governs consecutive-DR handling (C5).
type DRPolicy struct {
	Scope                 DRPolicyScope
	ForbidConsecutive     bool
	ConsecutivePenalty    float64 // negative; effective value, see AssignmentPolicy.EffectiveDRConsecutivePenalty
	IncludePendingInGlobal bool
}

// Weights are the scoring coefficients of §4.6. Locked to mode-specific
// constants for every mode except CUSTOM.
type Weights struct {
	Fair    float64
	Urgency float64
	Lrs     float64
}

// lockedWeights returns the hard-coded weights for non-CUSTOM modes.
func lockedWeights(m Mode) (Weights, bool) {
	switch m {
	case ModeBalance:
		return Weights{Fair: 2.0, Urgency: 0.5, Lrs: 0.8}, true
	case ModeNormal:
		return Weights{Fair: 1.2, Urgency: 1.0, Lrs: 0.6}, true
	case ModeUrgent:
		return Weights{Fair: 0.5, Urgency: 2.0, Lrs: 0.3}, true
	default:
		return Weights{}, false
	}
}

// AssignmentPolicy is the single process-wide configuration row (§3).
type AssignmentPolicy struct {
	Mode                Mode
	AutoAssignEnabled   bool
	FairnessWindowDays  int // 1-365, default 14
	MaxGapHours         float64
	MinAdvanceDays      int
	Weights             Weights // only meaningful verbatim when Mode == ModeCustom
	DRConsecutivePenalty float64 // [-2, 0]; top-level fallback for DRPolicy.ConsecutivePenalty
	DRPolicy            DRPolicy

	// Generation is bumped by every write and used by the threshold
	// Resolver to invalidate its cache (§5 "Policy-cache invalidation").
	Generation int64
}

// EffectiveWeights resolves the scoring weights for this policy's mode:
// the mode-locked constants for BALANCE/URGENT/NORMAL, or the policy's own
// Weights for CUSTOM.
func (p AssignmentPolicy) EffectiveWeights() Weights {
	if w, locked := lockedWeights(p.Mode); locked {
		return w
	}
	return p.Weights
}

// EffectiveDRConsecutivePenalty resolves the "two penalties, one effective
// value" ambiguity noted in spec.md §9: DRPolicy.ConsecutivePenalty takes
// precedence when non-zero, otherwise the policy-level DRConsecutivePenalty
// applies. Validate refuses configurations where both are set and disagree.
func (p AssignmentPolicy) EffectiveDRConsecutivePenalty() float64 {
	if p.DRPolicy.ConsecutivePenalty != 0 {
		return p.DRPolicy.ConsecutivePenalty
	}
	return p.DRConsecutivePenalty
}

// DefaultPolicy returns the out-of-the-box configuration: NORMAL mode,
// auto-assign on, a 14-day fairness window, no DR override.
func DefaultPolicy() AssignmentPolicy {
	return AssignmentPolicy{
		Mode:               ModeNormal,
		AutoAssignEnabled:  true,
		FairnessWindowDays: 14,
		MaxGapHours:        8,
		MinAdvanceDays:     0,
		Weights:            Weights{Fair: 1.2, Urgency: 1.0, Lrs: 0.6},
		DRConsecutivePenalty: -0.5,
		DRPolicy: DRPolicy{
			Scope:              DRScopeGlobal,
			ForbidConsecutive:  true,
			ConsecutivePenalty: 0,
		},
	}
}

// ModeThreshold holds per (meetingType, mode) urgency/general thresholds and
// a processing priority value, independent of any particular booking.
type ModeThreshold struct {
	UrgentThresholdDays  int
	GeneralThresholdDays int
	PriorityValue        int
}

// Validate clamps AssignmentPolicy fields to the ranges required by §3 and
// returns a ConfigError describing every violation that cannot be silently
// clamped (an inconsistent pair of DR penalties, or an attempt to set a
// mode-locked weight away from its constant).
func Validate(p AssignmentPolicy) (AssignmentPolicy, error) {
	var errs []string

	if p.FairnessWindowDays < 1 {
		p.FairnessWindowDays = 1
	} else if p.FairnessWindowDays > 365 {
		p.FairnessWindowDays = 365
	}
	if p.MaxGapHours < 0 {
		p.MaxGapHours = 0
	}
	if p.MinAdvanceDays < 0 {
		p.MinAdvanceDays = 0
	}

	clampWeight := func(w float64) float64 {
		if w < 0 {
			return 0
		}
		if w > 5 {
			return 5
		}
		return w
	}
	p.Weights.Fair = clampWeight(p.Weights.Fair)
	p.Weights.Urgency = clampWeight(p.Weights.Urgency)
	p.Weights.Lrs = clampWeight(p.Weights.Lrs)

	if locked, ok := lockedWeights(p.Mode); ok {
		if p.Weights != (Weights{}) && p.Weights != locked {
			errs = append(errs, fmt.Sprintf("mode %s locks weights to %+v, cannot set %+v", p.Mode, locked, p.Weights))
		}
		p.Weights = locked
	}

	clampPenalty := func(v float64) float64 {
		if v > 0 {
			return 0
		}
		if v < -2 {
			return -2
		}
		return v
	}
	p.DRConsecutivePenalty = clampPenalty(p.DRConsecutivePenalty)
	p.DRPolicy.ConsecutivePenalty = clampPenalty(p.DRPolicy.ConsecutivePenalty)

	if p.DRPolicy.ConsecutivePenalty != 0 && p.DRConsecutivePenalty != 0 &&
		p.DRPolicy.ConsecutivePenalty != p.DRConsecutivePenalty {
		errs = append(errs, fmt.Sprintf(
			"inconsistent DR penalties: policy.drConsecutivePenalty=%v, drPolicy.consecutivePenalty=%v",
			p.DRConsecutivePenalty, p.DRPolicy.ConsecutivePenalty))
	}

	if p.DRPolicy.Scope == "" {
		p.DRPolicy.Scope = DRScopeGlobal
	}

	if len(errs) > 0 {
		return p, &ConfigError{Violations: errs}
	}
	return p, nil
}

// ConfigError reports policy validation failures. It is never surfaced to
// the runtime decision path (§7) — only to the admin caller of writePolicy.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid policy: %v", e.Violations)
}

// LockedParameterError describes an attempt to change a mode-locked weight
// outside of CUSTOM mode. Validate reports such attempts as a violation
// inside a ConfigError and does not return this type.
type LockedParameterError struct {
	Mode  Mode
	Field string
}

func (e *LockedParameterError) Error() string {
	return fmt.Sprintf("parameter %q is locked by mode %s", e.Field, e.Mode)
}
