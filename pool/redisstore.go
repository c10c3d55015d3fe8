package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lucidrelay/interpassign/policy"
	"github.com/lucidrelay/interpassign/store"
)

// redisPoolKey is the Redis hash backing every Manager built with
// RedisStore: one field per bookingId, holding its PoolEntry as JSON.
const redisPoolKey = "interpassign:pool:entries"

// RedisStore persists PoolEntry state in Redis so pool membership survives
// across the CLI's one-shot process model (§5, §6) the same way
// BookingStore and PolicyStore already survive it via Postgres.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials addr/db and verifies connectivity before returning.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect pool redis store: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection.
func (s *RedisStore) Close() error { return s.client.Close() }

// entryDTO mirrors PoolEntry's exported fields. PoolEntry also carries
// unexported lease bookkeeping (leaseOwner, leaseExpiry, failedAt, index)
// that encoding/json would silently drop, so Save/LoadAll round-trip
// through this type instead of PoolEntry directly.
type entryDTO struct {
	BookingID          int64
	MeetingType        store.MeetingType
	TimeStart          time.Time
	TimeEnd            time.Time
	Mode               policy.Mode
	ThresholdDays      int
	DeadlineTime       time.Time
	PoolEntryTime      time.Time
	ProcessingPriority int
	BatchID            string
	Attempts           int
	State              State
	LeaseOwner         string
	LeaseExpiry        time.Time
	FailedAt           time.Time
}

func toDTO(e *PoolEntry) entryDTO {
	return entryDTO{
		BookingID:          e.BookingID,
		MeetingType:        e.MeetingType,
		TimeStart:          e.TimeStart,
		TimeEnd:            e.TimeEnd,
		Mode:               e.Mode,
		ThresholdDays:      e.ThresholdDays,
		DeadlineTime:       e.DeadlineTime,
		PoolEntryTime:      e.PoolEntryTime,
		ProcessingPriority: e.ProcessingPriority,
		BatchID:            e.BatchID,
		Attempts:           e.Attempts,
		State:              e.State,
		LeaseOwner:         e.leaseOwner,
		LeaseExpiry:        e.leaseExpiry,
		FailedAt:           e.failedAt,
	}
}

func fromDTO(d entryDTO) *PoolEntry {
	return &PoolEntry{
		BookingID:          d.BookingID,
		MeetingType:        d.MeetingType,
		TimeStart:          d.TimeStart,
		TimeEnd:            d.TimeEnd,
		Mode:               d.Mode,
		ThresholdDays:      d.ThresholdDays,
		DeadlineTime:       d.DeadlineTime,
		PoolEntryTime:      d.PoolEntryTime,
		ProcessingPriority: d.ProcessingPriority,
		BatchID:            d.BatchID,
		Attempts:           d.Attempts,
		State:              d.State,
		leaseOwner:         d.LeaseOwner,
		leaseExpiry:        d.LeaseExpiry,
		failedAt:           d.FailedAt,
		index:              -1,
	}
}

// LoadAll returns every persisted PoolEntry, used once at startup to
// rehydrate a fresh Manager from whatever a previous process left behind.
func (s *RedisStore) LoadAll(ctx context.Context) ([]*PoolEntry, error) {
	raw, err := s.client.HGetAll(ctx, redisPoolKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load pool entries: %w", err)
	}
	entries := make([]*PoolEntry, 0, len(raw))
	for _, v := range raw {
		var d entryDTO
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("unmarshal pool entry: %w", err)
		}
		entries = append(entries, fromDTO(d))
	}
	return entries, nil
}

// Save upserts one entry's field in the pool hash.
func (s *RedisStore) Save(ctx context.Context, e *PoolEntry) error {
	payload, err := json.Marshal(toDTO(e))
	if err != nil {
		return fmt.Errorf("marshal pool entry: %w", err)
	}
	if err := s.client.HSet(ctx, redisPoolKey, strconv.FormatInt(e.BookingID, 10), payload).Err(); err != nil {
		return fmt.Errorf("save pool entry: %w", err)
	}
	return nil
}

// Delete removes bookingID's field from the pool hash.
func (s *RedisStore) Delete(ctx context.Context, bookingID int64) error {
	if err := s.client.HDel(ctx, redisPoolKey, strconv.FormatInt(bookingID, 10)).Err(); err != nil {
		return fmt.Errorf("delete pool entry: %w", err)
	}
	return nil
}
