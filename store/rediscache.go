package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// VersionedEntry is a cached payload tagged with the policy generation it
// was computed under, so a reader can tell a cache hit from a stale one
// without a second round trip (§5 "Policy-cache invalidation").
type VersionedEntry struct {
	Value      json.RawMessage `json:"value"`
	Generation int64           `json:"generation"`
}

// Lua script for an atomic "set if the stored generation is not newer"
// write. Mirrors the teacher's versioned-set script: HGET+compare+HMSET
// would race across two round trips, so the compare-and-write happens
// inside Redis itself.
const versionedCacheSetScript = `
local current_gen = redis.call("HGET", KEYS[1], "generation")
if not current_gen or tonumber(ARGV[2]) >= tonumber(current_gen) then
    redis.call("HMSET", KEYS[1], "value", ARGV[1], "generation", ARGV[2])
    redis.call("EXPIRE", KEYS[1], ARGV[3])
    return 1
else
    return 0
end
`

const versionedCacheGetScript = `
local value = redis.call("HGET", KEYS[1], "value")
local generation = redis.call("HGET", KEYS[1], "generation")
if not value then
    return nil
end
return cjson.encode({value = value, generation = tonumber(generation)})
`

// RedisPolicyCache backs the Mode & Threshold Resolver's cache (C2): a
// short-TTL, generation-fenced cache of AssignmentPolicy/ModeThreshold
// lookups, so every engine worker doesn't hit PolicyStore on every tick.
type RedisPolicyCache struct {
	client  *redis.Client
	setSHA  string
	getSHA  string
}

// NewRedisPolicyCache dials Redis and preloads the CAS scripts.
func NewRedisPolicyCache(addr, password string, db int) (*RedisPolicyCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	setSHA, err := client.ScriptLoad(ctx, versionedCacheSetScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload cache set script: %w", err)
	}
	getSHA, err := client.ScriptLoad(ctx, versionedCacheGetScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload cache get script: %w", err)
	}

	return &RedisPolicyCache{client: client, setSHA: setSHA, getSHA: getSHA}, nil
}

// Close releases the underlying connection.
func (c *RedisPolicyCache) Close() error { return c.client.Close() }

// Put stores value under key, tagged with generation, with the given TTL.
// A write for a stale (lower) generation than what's cached is silently
// dropped rather than overwriting newer data.
func (c *RedisPolicyCache) Put(ctx context.Context, key string, value interface{}, generation int64, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	result, err := c.client.EvalSha(ctx, c.setSHA, []string{key}, string(payload), generation, int(ttl.Seconds())).Result()
	if err != nil && isNoScript(err) {
		c.setSHA, _ = c.client.ScriptLoad(ctx, versionedCacheSetScript).Result()
		result, err = c.client.EvalSha(ctx, c.setSHA, []string{key}, string(payload), generation, int(ttl.Seconds())).Result()
	}
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	if _, ok := result.(int64); !ok {
		return fmt.Errorf("unexpected cache set result type %T", result)
	}
	return nil
}

// Get returns the cached payload and the generation it was written under.
// ok is false on a miss.
func (c *RedisPolicyCache) Get(ctx context.Context, key string, dest interface{}) (generation int64, ok bool, err error) {
	result, err := c.client.EvalSha(ctx, c.getSHA, []string{key}).Result()
	if err != nil && isNoScript(err) {
		c.getSHA, _ = c.client.ScriptLoad(ctx, versionedCacheGetScript).Result()
		result, err = c.client.EvalSha(ctx, c.getSHA, []string{key}).Result()
	}
	if err == redis.Nil || result == nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache get: %w", err)
	}

	raw, ok := result.(string)
	if !ok {
		return 0, false, fmt.Errorf("unexpected cache get result type %T", result)
	}
	var entry VersionedEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return 0, false, fmt.Errorf("unmarshal cache envelope: %w", err)
	}
	if err := json.Unmarshal(entry.Value, dest); err != nil {
		return 0, false, fmt.Errorf("unmarshal cache payload: %w", err)
	}
	return entry.Generation, true, nil
}

func isNoScript(err error) bool {
	return err != nil && err.Error() == "NOSCRIPT No matching script. Please use EVAL."
}
