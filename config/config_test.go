package config

import (
	"testing"
	"time"

	"github.com/lucidrelay/interpassign/policy"
)

func withEnv(t *testing.T, vars map[string]string, fn func()) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
	fn()
}

func TestFromEnvDefaultsWhenUnset(t *testing.T) {
	cfg := FromEnv()
	if cfg.FairnessWindowDays != 14 {
		t.Errorf("expected default FairnessWindowDays=14, got %d", cfg.FairnessWindowDays)
	}
	if cfg.AssignMode != policy.ModeNormal {
		t.Errorf("expected default mode NORMAL, got %s", cfg.AssignMode)
	}
}

func TestFromEnvParsesOverrides(t *testing.T) {
	withEnv(t, map[string]string{
		"FAIRNESS_WINDOW_DAYS":  "30",
		"MAX_GAP_HOURS":         "12.5",
		"ASSIGN_MODE":           "URGENT",
		"LEASE_TIMEOUT_SECONDS": "120",
	}, func() {
		cfg := FromEnv()
		if cfg.FairnessWindowDays != 30 {
			t.Errorf("expected FairnessWindowDays=30, got %d", cfg.FairnessWindowDays)
		}
		if cfg.MaxGapHours != 12.5 {
			t.Errorf("expected MaxGapHours=12.5, got %v", cfg.MaxGapHours)
		}
		if cfg.AssignMode != policy.ModeUrgent {
			t.Errorf("expected mode URGENT, got %s", cfg.AssignMode)
		}
		if cfg.LeaseTimeout != 120*time.Second {
			t.Errorf("expected LeaseTimeout=120s, got %v", cfg.LeaseTimeout)
		}
	})
}

func TestFromEnvIgnoresUnrecognisedMode(t *testing.T) {
	withEnv(t, map[string]string{"ASSIGN_MODE": "NOT_A_MODE"}, func() {
		cfg := FromEnv()
		if cfg.AssignMode != policy.ModeNormal {
			t.Errorf("expected fallback to default mode on garbage input, got %s", cfg.AssignMode)
		}
	})
}

func TestFromEnvIgnoresNonPositiveOverrides(t *testing.T) {
	withEnv(t, map[string]string{"BATCH_SIZE": "-5", "FAIRNESS_WINDOW_DAYS": "0"}, func() {
		cfg := FromEnv()
		if cfg.BatchSize != Default().BatchSize {
			t.Errorf("expected negative BATCH_SIZE ignored, got %d", cfg.BatchSize)
		}
		if cfg.FairnessWindowDays != Default().FairnessWindowDays {
			t.Errorf("expected zero FAIRNESS_WINDOW_DAYS ignored, got %d", cfg.FairnessWindowDays)
		}
	})
}

func TestBootstrapPolicyAppliesConfigOverrides(t *testing.T) {
	cfg := Default()
	cfg.AssignMode = policy.ModeUrgent
	cfg.FairnessWindowDays = 21

	p := cfg.BootstrapPolicy()
	if p.Mode != policy.ModeUrgent {
		t.Errorf("expected bootstrap policy mode URGENT, got %s", p.Mode)
	}
	if p.FairnessWindowDays != 21 {
		t.Errorf("expected bootstrap policy FairnessWindowDays=21, got %d", p.FairnessWindowDays)
	}
}
