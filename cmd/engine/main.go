// Command engine exposes the Run Orchestrator (C8) over a small CLI surface
// (§6): run a single assignment, inspect pool depth, drain the pool once,
// and validate a candidate policy document before writing it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidrelay/interpassign/config"
	"github.com/lucidrelay/interpassign/conflict"
	"github.com/lucidrelay/interpassign/drhistory"
	"github.com/lucidrelay/interpassign/fairness"
	"github.com/lucidrelay/interpassign/orchestrator"
	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/pool"
	"github.com/lucidrelay/interpassign/resolver"
	"github.com/lucidrelay/interpassign/store"
)

var jsonOutput bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "engine",
	Short: "Interpreter auto-assignment engine",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", true, "print results as JSON")
	rootCmd.AddCommand(runCmd, poolCmd, policyCmd)
	poolCmd.AddCommand(poolStatusCmd, poolDrainCmd)
	policyCmd.AddCommand(policyValidateCmd)
}

// buildEngine wires config.FromEnv() into the C1-C9 collaborators and
// returns a ready-to-use Engine. POSTGRES_DSN unset falls back to an
// in-memory store so `engine run` works against a scratch process; in
// that mode the pool and the resolver's remote cache tier stay in-process
// too, since there is no durable BookingStore for a second process to
// share anyway. POSTGRES_DSN set backs bookings/policies/logs with
// Postgres AND backs the pool and the resolver's cache with Redis, so
// `engine pool status`/`engine pool drain` see state a previous `engine
// run` invocation left behind (§5, §6).
func buildEngine(ctx context.Context) (*orchestrator.Engine, error) {
	cfg := config.FromEnv()
	clock := store.SystemClock{}

	var (
		bookings store.BookingStore
		policies store.PolicyStore
		logs     store.LogSink
		poolMgr  *pool.Manager
		res      *resolver.Resolver
	)

	if cfg.PostgresDSN != "" {
		pgBookings, err := store.NewPostgresBookingStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres booking store: %w", err)
		}
		bookings = pgBookings
		policies = store.NewPostgresPolicyStore(pgBookings.Pool())
		logs = store.NewPostgresLogSink(pgBookings.Pool())

		poolStore, err := pool.NewRedisStore(ctx, cfg.RedisAddr, "", 0)
		if err != nil {
			return nil, fmt.Errorf("connect redis pool store: %w", err)
		}
		poolMgr, err = pool.NewWithStore(ctx, cfg.LeaseTimeout, poolStore)
		if err != nil {
			return nil, fmt.Errorf("load durable pool state: %w", err)
		}

		policyCache, err := store.NewRedisPolicyCache(cfg.RedisAddr, "", 0)
		if err != nil {
			return nil, fmt.Errorf("connect redis policy cache: %w", err)
		}
		res = resolver.NewWithRemoteCache(policies, clock, cfg.PolicyCacheTTL, policyCache)
	} else {
		bookings = store.NewMemoryBookingStore()
		policies = store.NewMemoryPolicyStore(cfg.BootstrapPolicy())
		logs = store.NewStdLogSink()
		poolMgr = pool.New(cfg.LeaseTimeout)
		res = resolver.NewWithTTL(policies, clock, cfg.PolicyCacheTTL)
	}

	conflicts := conflict.New(bookings)
	fair := fairness.New(bookings)
	dr := drhistory.New(bookings)

	return orchestrator.New(bookings, policies, logs, clock, res, poolMgr, conflicts, fair, dr), nil
}

var runCmd = &cobra.Command{
	Use:   "run <bookingId>",
	Short: "Run a single assignment decision",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bookingID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid booking id %q: %v\n", args[0], err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		engine, err := buildEngine(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		outcome, err := engine.Assign(ctx, bookingID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		printJSON(outcome)
		if outcome.Kind == orchestrator.OutcomeEscalated {
			os.Exit(2)
		}
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect or drain the pool",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print pool depth by state",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		engine, err := buildEngine(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		printJSON(engine.PoolMgr.Stats())
	},
}

var poolDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run one Tick over the pool's ready entries",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		engine, err := buildEngine(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		outcomes, err := engine.Tick(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		printJSON(outcomes)

		for _, o := range outcomes {
			if o.Kind == orchestrator.OutcomeEscalated {
				os.Exit(2)
			}
		}
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect or validate assignment policy",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <json>",
	Short: "Validate a candidate AssignmentPolicy document",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var candidate policy.AssignmentPolicy
		if err := json.Unmarshal([]byte(args[0]), &candidate); err != nil {
			fmt.Fprintf(os.Stderr, "invalid policy json: %v\n", err)
			os.Exit(1)
		}

		sanitised, err := policy.Validate(candidate)
		if err != nil {
			printJSON(map[string]interface{}{"valid": false, "error": err.Error()})
			os.Exit(1)
		}

		printJSON(map[string]interface{}{"valid": true, "policy": sanitised})
	},
}

func printJSON(v interface{}) {
	if !jsonOutput {
		fmt.Printf("%+v\n", v)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}
