// Package cache implements spec.md's optional shared-cache tier: the
// vbguess routing cache (internal/dispatch) and the N1QL query-plan cache
// (internal/instance) both need a small get/set/ttl store, usable either
// as a local, single-process LRU or — when a fleet of instances should
// share state — backed by Redis. Grounded on the teacher's
// internal/infrastructure/cache/redis.go Get/Set/TTL shape, generalized
// from a single concrete RedisCache into a Store interface with two
// implementations.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get when key has no value (or it
// expired), mirroring the teacher's cache.ErrNotFound sentinel.
var ErrNotFound = errors.New("cache: not found")

// Store is a byte-oriented get/set/ttl cache. Both LocalStore and
// RedisStore implement it; callers needing typed values use GetJSON/SetJSON.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON fetches key from s and unmarshals it into dest. Returns
// ErrNotFound unchanged when s does.
func GetJSON(ctx context.Context, s Store, key string, dest interface{}) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON marshals value and stores it under key with the given ttl.
func SetJSON(ctx context.Context, s Store, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}
