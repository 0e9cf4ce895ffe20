// Package settings resolves logical storage keys to remote folder paths.
//
// Resolution tries the persisted override store, then the process
// environment, then the compiled-in default. It never fails: a broken
// override store is logged and skipped.
package settings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/voyagehub/assetsync/internal/cache"
	"github.com/voyagehub/assetsync/internal/common"
	"github.com/voyagehub/assetsync/internal/logging"
	"github.com/voyagehub/assetsync/internal/repositories/overrides"
)

// Source names the tier a value came from.
type Source string

const (
	SourcePersisted   Source = "persisted"
	SourceEnvironment Source = "environment"
	SourceDefault     Source = "default"
)

const cachePrefix = "settings:"

// Entry is one resolved value.
type Entry struct {
	Key    StorageKey `json:"key"`
	Value  string     `json:"value"`
	Source Source     `json:"source"`
}

type Resolver struct {
	store     overrides.Repository
	cache     cache.Cache
	ttl       time.Duration
	log       logging.Logger
	lookupEnv func(string) (string, bool)
}

type Option func(*Resolver)

// WithCache memoizes resolutions for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) { r.lookupEnv = fn }
}

// NewResolver builds a Resolver. store may be nil when no database is
// configured. It fails only if the key set has a key without a default.
func NewResolver(store overrides.Repository, log logging.Logger, opts ...Option) (*Resolver, error) {
	if err := Validate(); err != nil {
		return nil, err
	}
	r := &Resolver{
		store:     store,
		log:       log.With("module", "settings"),
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the value for key and the tier it came from.
func (r *Resolver) Resolve(ctx context.Context, key StorageKey) Entry {
	if r.cache != nil {
		if e, ok := cache.GetJSON[Entry](ctx, r.cache, cachePrefix+string(key)); ok {
			return e
		}
	}

	e := r.resolve(ctx, key)
	if r.cache != nil {
		cache.SetJSON(ctx, r.cache, cachePrefix+string(key), e, r.ttl)
	}
	return e
}

func (r *Resolver) resolve(ctx context.Context, key StorageKey) Entry {
	if r.store != nil {
		v, ok, err := r.store.Get(ctx, key.StoreID())
		switch {
		case err != nil:
			r.log.Warn(ctx, "override store read failed, falling through", "key", key, "error", err)
		case ok && strings.TrimSpace(v) != "":
			return Entry{Key: key, Value: v, Source: SourcePersisted}
		}
	}

	if v, ok := r.lookupEnv(key.EnvVar()); ok && strings.TrimSpace(v) != "" {
		return Entry{Key: key, Value: v, Source: SourceEnvironment}
	}

	return Entry{Key: key, Value: key.Default(), Source: SourceDefault}
}

// ResolveName resolves a key given by name.
func (r *Resolver) ResolveName(ctx context.Context, name string) (string, error) {
	key, err := ParseKey(name)
	if err != nil {
		return "", common.NewOpError("resolve", common.ErrInvalidInput, err)
	}
	return r.Resolve(ctx, key).Value, nil
}

// SetOverride persists value for key and drops every cached resolution.
func (r *Resolver) SetOverride(ctx context.Context, key StorageKey, value string) error {
	if r.store == nil {
		return fmt.Errorf("set override %s: no override store configured", key)
	}
	if strings.TrimSpace(value) == "" {
		return common.NewOpError("set override", common.ErrInvalidInput, fmt.Errorf("empty value for %s", key))
	}
	if err := r.store.Set(ctx, key.StoreID(), value); err != nil {
		return fmt.Errorf("set override %s: %w", key, err)
	}
	r.invalidate(ctx)
	return nil
}

// ClearOverride removes the persisted value for key.
func (r *Resolver) ClearOverride(ctx context.Context, key StorageKey) error {
	if r.store == nil {
		return fmt.Errorf("clear override %s: no override store configured", key)
	}
	if err := r.store.Delete(ctx, key.StoreID()); err != nil {
		return fmt.Errorf("clear override %s: %w", key, err)
	}
	r.invalidate(ctx)
	return nil
}

func (r *Resolver) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	n := r.cache.DeletePattern(ctx, cachePrefix+"*")
	r.log.Debug(ctx, "settings cache invalidated", "entries", n)
}
