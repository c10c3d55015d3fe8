package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucidrelay/interpassign/policy"
)

// PostgresBookingStore implements BookingStore against a Postgres backend.
type PostgresBookingStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingStore dials and pings a connection pool tuned for the
// engine's read-heavy, low-write workload.
func NewPostgresBookingStore(ctx context.Context, connString string) (*PostgresBookingStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresBookingStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so PostgresPolicyStore and
// PostgresLogSink can share one dialed pool instead of opening their own.
func (s *PostgresBookingStore) Pool() *pgxpool.Pool { return s.pool }

// Close closes the connection pool.
func (s *PostgresBookingStore) Close() { s.pool.Close() }

func (s *PostgresBookingStore) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	query := `
		SELECT id, meeting_type, dr_type, time_start, time_end, room, owner_id, created_at, status, assigned_interpreter
		FROM bookings WHERE id = $1
	`
	var b Booking
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&b.ID, &b.MeetingType, &b.DRType, &b.TimeStart, &b.TimeEnd, &b.Room,
		&b.OwnerID, &b.CreatedAt, &b.Status, &b.AssignedInterpreter,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresBookingStore) ListActiveInterpreters(ctx context.Context) ([]*Interpreter, error) {
	query := `SELECT emp_code, active, joined_at FROM interpreters WHERE active = true ORDER BY emp_code`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Interpreter
	for rows.Next() {
		var i Interpreter
		if err := rows.Scan(&i.ID, &i.Active, &i.JoinedAt); err != nil {
			return nil, err
		}
		result = append(result, &i)
	}
	return result, rows.Err()
}

func (s *PostgresBookingStore) ListOverlapping(ctx context.Context, interpreterID string, t1, t2 time.Time, statuses StatusSet) ([]*Booking, error) {
	var wanted []BookingStatus
	for st, on := range statuses {
		if on {
			wanted = append(wanted, st)
		}
	}
	query := `
		SELECT id, meeting_type, dr_type, time_start, time_end, room, owner_id, created_at, status, assigned_interpreter
		FROM bookings
		WHERE assigned_interpreter = $1 AND status = ANY($2) AND time_start < $3 AND $4 < time_end
	`
	rows, err := s.pool.Query(ctx, query, interpreterID, wanted, t2, t1)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func (s *PostgresBookingStore) ListApprovedInWindow(ctx context.Context, t1, t2 time.Time) ([]*Booking, error) {
	query := `
		SELECT id, meeting_type, dr_type, time_start, time_end, room, owner_id, created_at, status, assigned_interpreter
		FROM bookings
		WHERE status = $1 AND time_start >= $2 AND time_start < $3
	`
	rows, err := s.pool.Query(ctx, query, StatusApproved, t1, t2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBookings(rows)
}

func (s *PostgresBookingStore) LastDR(ctx context.Context, before time.Time, filter DRFilter) (*Booking, error) {
	statuses := []BookingStatus{StatusApproved}
	if filter.IncludePending {
		statuses = append(statuses, StatusWaiting)
	}
	query := `
		SELECT id, meeting_type, dr_type, time_start, time_end, room, owner_id, created_at, status, assigned_interpreter
		FROM bookings
		WHERE meeting_type = $1 AND time_start < $2 AND status = ANY($3)
		  AND ($4 = '' OR dr_type = $4)
		ORDER BY time_start DESC LIMIT 1
	`
	var b Booking
	err := s.pool.QueryRow(ctx, query, MeetingDR, before, statuses, filter.DRType).Scan(
		&b.ID, &b.MeetingType, &b.DRType, &b.TimeStart, &b.TimeEnd, &b.Room,
		&b.OwnerID, &b.CreatedAt, &b.Status, &b.AssignedInterpreter,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *PostgresBookingStore) DaysSinceLast(ctx context.Context, interpreterID string, now time.Time) (float64, bool, error) {
	query := `
		SELECT time_start FROM bookings
		WHERE assigned_interpreter = $1 AND status = $2
		ORDER BY time_start DESC LIMIT 1
	`
	var last time.Time
	err := s.pool.QueryRow(ctx, query, interpreterID, StatusApproved).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return now.Sub(last).Hours() / 24.0, true, nil
}

// CommitAssignment re-checks for an overlap and writes the assignment inside
// one transaction so concurrent commits against the same interpreter can't
// both succeed (§7 ConflictAtCommit).
func (s *PostgresBookingStore) CommitAssignment(ctx context.Context, bookingID int64, interpreterID string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var start, end time.Time
	err = tx.QueryRow(ctx, `SELECT time_start, time_end FROM bookings WHERE id = $1 FOR UPDATE`, bookingID).Scan(&start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, errors.New("booking not found")
	}
	if err != nil {
		return false, err
	}

	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT count(*) FROM bookings
		WHERE assigned_interpreter = $1 AND status = $2 AND id <> $3
		  AND time_start < $4 AND $5 < time_end
	`, interpreterID, StatusApproved, bookingID, end, start).Scan(&conflicts)
	if err != nil {
		return false, err
	}
	if conflicts > 0 {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE bookings SET assigned_interpreter = $1, status = $2 WHERE id = $3
	`, interpreterID, StatusApproved, bookingID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, errors.New("booking not found")
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresBookingStore) SetStatus(ctx context.Context, bookingID int64, status BookingStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE bookings SET status = $1 WHERE id = $2`, status, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("booking not found")
	}
	return nil
}

func scanBookings(rows pgx.Rows) ([]*Booking, error) {
	var result []*Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(
			&b.ID, &b.MeetingType, &b.DRType, &b.TimeStart, &b.TimeEnd, &b.Room,
			&b.OwnerID, &b.CreatedAt, &b.Status, &b.AssignedInterpreter,
		); err != nil {
			return nil, err
		}
		result = append(result, &b)
	}
	return result, rows.Err()
}

// PostgresPolicyStore implements PolicyStore. Generation is advanced inside
// the same statement as the policy row update so readers always observe a
// consistent (policy, generation) pair.
type PostgresPolicyStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPolicyStore wraps an existing pool (shared with the booking
// store) for policy reads/writes.
func NewPostgresPolicyStore(pool *pgxpool.Pool) *PostgresPolicyStore {
	return &PostgresPolicyStore{pool: pool}
}

func (s *PostgresPolicyStore) GetPolicy(ctx context.Context) (policy.AssignmentPolicy, error) {
	query := `
		SELECT mode, auto_assign_enabled, fairness_window_days, max_gap_hours, min_advance_days,
		       weight_fair, weight_urgency, weight_lrs, dr_consecutive_penalty,
		       dr_scope, dr_forbid_consecutive, dr_consecutive_penalty_override, dr_include_pending, generation
		FROM assignment_policy WHERE id = 1
	`
	var p policy.AssignmentPolicy
	err := s.pool.QueryRow(ctx, query).Scan(
		&p.Mode, &p.AutoAssignEnabled, &p.FairnessWindowDays, &p.MaxGapHours, &p.MinAdvanceDays,
		&p.Weights.Fair, &p.Weights.Urgency, &p.Weights.Lrs, &p.DRConsecutivePenalty,
		&p.DRPolicy.Scope, &p.DRPolicy.ForbidConsecutive, &p.DRPolicy.ConsecutivePenalty, &p.DRPolicy.IncludePendingInGlobal,
		&p.Generation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.DefaultPolicy(), nil
	}
	if err != nil {
		return policy.AssignmentPolicy{}, err
	}
	return p, nil
}

func (s *PostgresPolicyStore) GetThresholds(ctx context.Context, mt MeetingType, mode policy.Mode) (policy.ModeThreshold, bool, error) {
	query := `
		SELECT urgent_threshold_days, general_threshold_days, priority_value
		FROM mode_thresholds WHERE meeting_type = $1 AND mode = $2
	`
	var t policy.ModeThreshold
	err := s.pool.QueryRow(ctx, query, mt, mode).Scan(&t.UrgentThresholdDays, &t.GeneralThresholdDays, &t.PriorityValue)
	if errors.Is(err, pgx.ErrNoRows) {
		return policy.ModeThreshold{}, false, nil
	}
	if err != nil {
		return policy.ModeThreshold{}, false, err
	}
	return t, true, nil
}

func (s *PostgresPolicyStore) WritePolicy(ctx context.Context, patch policy.AssignmentPolicy) (policy.AssignmentPolicy, error) {
	sanitised, err := policy.Validate(patch)
	if err != nil {
		return policy.AssignmentPolicy{}, err
	}

	query := `
		INSERT INTO assignment_policy (
			id, mode, auto_assign_enabled, fairness_window_days, max_gap_hours, min_advance_days,
			weight_fair, weight_urgency, weight_lrs, dr_consecutive_penalty,
			dr_scope, dr_forbid_consecutive, dr_consecutive_penalty_override, dr_include_pending, generation
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			auto_assign_enabled = EXCLUDED.auto_assign_enabled,
			fairness_window_days = EXCLUDED.fairness_window_days,
			max_gap_hours = EXCLUDED.max_gap_hours,
			min_advance_days = EXCLUDED.min_advance_days,
			weight_fair = EXCLUDED.weight_fair,
			weight_urgency = EXCLUDED.weight_urgency,
			weight_lrs = EXCLUDED.weight_lrs,
			dr_consecutive_penalty = EXCLUDED.dr_consecutive_penalty,
			dr_scope = EXCLUDED.dr_scope,
			dr_forbid_consecutive = EXCLUDED.dr_forbid_consecutive,
			dr_consecutive_penalty_override = EXCLUDED.dr_consecutive_penalty_override,
			dr_include_pending = EXCLUDED.dr_include_pending,
			generation = assignment_policy.generation + 1
		RETURNING generation
	`
	err = s.pool.QueryRow(ctx, query,
		sanitised.Mode, sanitised.AutoAssignEnabled, sanitised.FairnessWindowDays, sanitised.MaxGapHours, sanitised.MinAdvanceDays,
		sanitised.Weights.Fair, sanitised.Weights.Urgency, sanitised.Weights.Lrs, sanitised.DRConsecutivePenalty,
		sanitised.DRPolicy.Scope, sanitised.DRPolicy.ForbidConsecutive, sanitised.DRPolicy.ConsecutivePenalty, sanitised.DRPolicy.IncludePendingInGlobal,
	).Scan(&sanitised.Generation)
	if err != nil {
		return policy.AssignmentPolicy{}, err
	}
	return sanitised, nil
}

// PostgresLogSink implements LogSink by appending to an append-only table.
// ScoreBreakdown is stored as JSONB; hours-snapshot marshal errors degrade
// to an empty JSON object ({}) rather than failing the decision path (§7 LogSinkFailure is about
// store unavailability, not serialization).
type PostgresLogSink struct {
	pool *pgxpool.Pool
}

func NewPostgresLogSink(pool *pgxpool.Pool) *PostgresLogSink {
	return &PostgresLogSink{pool: pool}
}

func (s *PostgresLogSink) Append(ctx context.Context, entry AssignmentLog) error {
	pre, err := json.Marshal(entry.PreHoursSnapshot)
	if err != nil {
		pre = []byte("{}")
	}
	post, err := json.Marshal(entry.PostHoursSnapshot)
	if err != nil {
		post = []byte("{}")
	}
	query := `
		INSERT INTO assignment_logs (
			booking_id, outcome, reason, pre_hours_snapshot, post_hours_snapshot,
			score_breakdown, policy_fingerprint, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		entry.BookingID, entry.Outcome, entry.Reason, pre, post,
		entry.ScoreBreakdown, entry.PolicyFingerprint, entry.CorrelationID, entry.Timestamp,
	)
	return err
}
