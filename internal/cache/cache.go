// Package cache implements the engine's two-tier read-through cache.
//
// Memory is a bounded in-process map with TTL and FIFO eviction. Redis is a
// best-effort distributed tier that degrades to misses when the server is
// unreachable. Tiered combines them: reads try the distributed tier first and
// fall back to the in-process one, writes go to both.
//
// Cache entries are never authoritative. Callers must be able to rebuild a
// value from its source of truth on a miss.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// DefaultTTL applies when Set is called with a non-positive ttl.
const DefaultTTL = 5 * time.Minute

// Cache is the contract shared by every tier. None of the methods return
// errors: an unavailable backend reads as a miss and writes as "not stored".
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
	// DeletePattern removes every key matching a glob-like pattern
	// ("settings:*", "folder:root/?/docs") and reports how many were removed.
	DeletePattern(ctx context.Context, pattern string) int
	Clear(ctx context.Context)
}

// GetJSON reads key and decodes it into a T. Undecodable values read as a
// miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.Set(ctx, key, raw, ttl)
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
