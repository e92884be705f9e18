package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalStore is the default, single-process Store backed by an LRU ring —
// what every instance uses absent an explicit Redis configuration.
type LocalStore struct {
	mu    sync.Mutex
	cache *lru.Cache[string, localEntry]
}

// NewLocalStore builds a LocalStore holding up to size entries.
func NewLocalStore(size int) *LocalStore {
	c, _ := lru.New[string, localEntry](size)
	return &LocalStore{cache: c}
}

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.cache.Remove(key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *LocalStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.cache.Add(key, localEntry{value: append([]byte(nil), value...), expiresAt: expiresAt})
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.cache.Remove(key)
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Close() error { return nil }
