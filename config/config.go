// Package config reads the engine's environment-style configuration (§6):
// every variable is optional with a hard-coded default, parsed with
// fmt.Sscanf exactly the way the teacher's main.go reads SCHEDULER_CONCURRENCY
// and CIRCUIT_BREAKER_THRESHOLD. No flags package, no Viper.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/lucidrelay/interpassign/policy"
)

// Config is the process-wide runtime configuration, independent of the
// AssignmentPolicy row stored in the PolicyStore: this controls how the
// engine itself runs (lease timeouts, cache TTLs), not scoring behavior.
type Config struct {
	AutoAssignEnabled  bool
	AssignMode         policy.Mode
	FairnessWindowDays int
	MaxGapHours        float64
	BatchSize          int
	LeaseTimeout       time.Duration
	PolicyCacheTTL     time.Duration

	PostgresDSN string
	RedisAddr   string
}

// Default returns the out-of-the-box configuration, matching policy.DefaultPolicy's values.
func Default() Config {
	return Config{
		AutoAssignEnabled:  true,
		AssignMode:         policy.ModeNormal,
		FairnessWindowDays: 14,
		MaxGapHours:        8,
		BatchSize:          10,
		LeaseTimeout:       5 * time.Minute,
		PolicyCacheTTL:     5 * time.Minute,
		RedisAddr:          "localhost:6379",
	}
}

// FromEnv loads Config from the process environment, falling back to
// Default() for every variable that is unset or fails to parse.
func FromEnv() Config {
	c := Default()

	if v := os.Getenv("AUTO_ASSIGN_ENABLED"); v != "" {
		c.AutoAssignEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ASSIGN_MODE"); v != "" {
		switch policy.Mode(v) {
		case policy.ModeBalance, policy.ModeUrgent, policy.ModeNormal, policy.ModeCustom:
			c.AssignMode = policy.Mode(v)
		default:
			fmt.Fprintf(os.Stderr, "config: ignoring unrecognised ASSIGN_MODE=%q\n", v)
		}
	}
	if v := os.Getenv("FAIRNESS_WINDOW_DAYS"); v != "" {
		var d int
		if _, err := fmt.Sscanf(v, "%d", &d); err == nil && d > 0 {
			c.FairnessWindowDays = d
		}
	}
	if v := os.Getenv("MAX_GAP_HOURS"); v != "" {
		var g float64
		if _, err := fmt.Sscanf(v, "%f", &g); err == nil && g >= 0 {
			c.MaxGapHours = g
		}
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("LEASE_TIMEOUT_SECONDS"); v != "" {
		var s int
		if _, err := fmt.Sscanf(v, "%d", &s); err == nil && s > 0 {
			c.LeaseTimeout = time.Duration(s) * time.Second
		}
	}
	if v := os.Getenv("POLICY_CACHE_SECONDS"); v != "" {
		var s int
		if _, err := fmt.Sscanf(v, "%d", &s); err == nil && s > 0 {
			c.PolicyCacheTTL = time.Duration(s) * time.Second
		}
	}

	c.PostgresDSN = os.Getenv("POSTGRES_DSN")
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.RedisAddr = addr
	}

	return c
}

// BootstrapPolicy builds the initial AssignmentPolicy row from Config, used
// to seed a fresh PolicyStore on first run.
func (c Config) BootstrapPolicy() policy.AssignmentPolicy {
	p := policy.DefaultPolicy()
	p.AutoAssignEnabled = c.AutoAssignEnabled
	p.Mode = c.AssignMode
	p.Weights = p.EffectiveWeights()
	p.FairnessWindowDays = c.FairnessWindowDays
	p.MaxGapHours = c.MaxGapHours

	validated, err := policy.Validate(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: bootstrap policy failed validation, using defaults: %v\n", err)
		return policy.DefaultPolicy()
	}
	return validated
}
