package cache

import (
	"context"
	"time"
)

// Tiered reads from the distributed tier first and falls back to the local
// one. Writes go to both; a failed distributed write is ignored.
type Tiered struct {
	distributed Cache
	local       Cache
}

// NewTiered builds the read-through policy. distributed may be nil when the
// deployment has no network cache.
func NewTiered(distributed, local Cache) *Tiered {
	return &Tiered{distributed: distributed, local: local}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool) {
	if t.distributed != nil {
		if v, ok := t.distributed.Get(ctx, key); ok {
			return v, true
		}
	}
	return t.local.Get(ctx, key)
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if t.distributed != nil {
		_ = t.distributed.Set(ctx, key, value, ttl)
	}
	return t.local.Set(ctx, key, value, ttl)
}

func (t *Tiered) Delete(ctx context.Context, key string) bool {
	removed := false
	if t.distributed != nil {
		removed = t.distributed.Delete(ctx, key)
	}
	return t.local.Delete(ctx, key) || removed
}

// DeletePattern clears both tiers and reports the larger count, since the
// same logical key usually lives in both.
func (t *Tiered) DeletePattern(ctx context.Context, pattern string) int {
	n := 0
	if t.distributed != nil {
		n = t.distributed.DeletePattern(ctx, pattern)
	}
	return max(n, t.local.DeletePattern(ctx, pattern))
}

func (t *Tiered) Clear(ctx context.Context) {
	if t.distributed != nil {
		t.distributed.Clear(ctx)
	}
	t.local.Clear(ctx)
}
