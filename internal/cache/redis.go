package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
)

const (
	DefaultProbeTimeout = 3 * time.Second
	defaultKeyPrefix    = "assetsync:"
	scanBatch           = 200
)

// Redis is the distributed tier. It probes the server once at construction;
// when the probe fails every later call is a no-op miss until Reset succeeds.
// Runtime errors are downgraded to misses and logged once.
type Redis struct {
	client       *redis.Client
	prefix       string
	probeTimeout time.Duration
	log          logging.Logger

	failed atomic.Bool
	warned atomic.Bool
}

type RedisOption func(*Redis)

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

func WithProbeTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// NewRedis wraps an already configured client and runs the connectivity probe.
func NewRedis(ctx context.Context, client *redis.Client, log logging.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client:       client,
		prefix:       defaultKeyPrefix,
		probeTimeout: DefaultProbeTimeout,
		log:          log.With("module", "cache", "tier", "redis"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.probe(ctx)
	return r
}

// NewRedisFromAddr dials addr with connect and read timeouts bounded by
// probeTimeout.
func NewRedisFromAddr(ctx context.Context, addr, password string, db int, probeTimeout time.Duration, log logging.Logger, opts ...RedisOption) *Redis {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  probeTimeout,
		ReadTimeout:  probeTimeout,
		WriteTimeout: probeTimeout,
	})
	return NewRedis(ctx, client, log, append([]RedisOption{WithProbeTimeout(probeTimeout)}, opts...)...)
}

func (r *Redis) probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	if err := r.client.Ping(pctx).Err(); err != nil {
		r.failed.Store(true)
		r.log.Warn(ctx, "distributed cache unavailable, falling back to in-process cache",
			"error", common.NewOpError("ping", common.ErrCacheUnavailable, err).Error())
		return false
	}
	r.failed.Store(false)
	return true
}

// Available reports whether the last probe succeeded.
func (r *Redis) Available() bool {
	return !r.failed.Load()
}

// Reset re-runs the connectivity probe and clears the log-once guard.
func (r *Redis) Reset(ctx context.Context) bool {
	r.warned.Store(false)
	return r.probe(ctx)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) degraded(ctx context.Context, op string, err error) {
	if r.warned.CompareAndSwap(false, true) {
		r.log.Warn(ctx, "distributed cache call failed",
			"error", common.NewOpError(op, common.ErrCacheUnavailable, err).Error())
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	if r.failed.Load() {
		return nil, false
	}
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.degraded(ctx, "get", err)
		}
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if r.failed.Load() {
		return false
	}
	if err := r.client.Set(ctx, r.prefix+key, value, effectiveTTL(ttl)).Err(); err != nil {
		r.degraded(ctx, "set", err)
		return false
	}
	return true
}

func (r *Redis) Delete(ctx context.Context, key string) bool {
	if r.failed.Load() {
		return false
	}
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		r.degraded(ctx, "delete", err)
		return false
	}
	return n > 0
}

// DeletePattern scans the keyspace with MATCH so the server evaluates the
// glob. Keys outside the prefix are never touched.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) int {
	if r.failed.Load() {
		return 0
	}

	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.degraded(ctx, "scan", err)
		return 0
	}

	deleted := 0
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			r.degraded(ctx, "delete", err)
			return deleted
		}
		deleted += int(n)
	}
	return deleted
}

func (r *Redis) Clear(ctx context.Context) {
	r.DeletePattern(ctx, "*")
}
