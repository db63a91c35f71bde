package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/draftpilot/draftpilot/internal/store"
)

const cleanupInterval = 10 * time.Minute

type MemoryStore struct {
	cache *cache.Cache
}

// New keeps records for ttl after their last write. A ttl of zero keeps them
// until deleted.
func New(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &MemoryStore{cache: cache.New(ttl, cleanupInterval)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, found := m.cache.Get(key)
	if !found {
		return nil, store.ErrNotFound
	}
	stored := value.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.cache.Set(key, stored, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

var _ store.Store = (*MemoryStore)(nil)
