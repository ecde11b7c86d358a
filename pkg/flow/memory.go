package flow

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a memory-backed store. Expired entries are purged
// every minute.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cache: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (m *MemoryStore) key(sid, key string) string { return sid + "/" + key }

func (m *MemoryStore) Get(ctx context.Context, sid, key string) (string, error) {
	v, ok := m.cache.Get(m.key(sid, key))
	if !ok {
		return "", ErrNotFound
	}
	return v.(string), nil
}

func (m *MemoryStore) Set(ctx context.Context, sid, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.cache.Set(m.key(sid, key), value, ttl)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sid, key string) error {
	m.cache.Delete(m.key(sid, key))
	return nil
}
