package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore implements the Store interface with an in-process expiring cache.
// Suitable for single-instance deployments and tests; expiry is handled by the
// cache itself, not by callers.
type MemoryStore struct {
	cache *gocache.Cache
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() Store {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Get retrieves a session count from the cache.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (int64, bool, error) {
	value, found := s.cache.Get(sessionKey(sessionID))
	if !found {
		return 0, false, nil
	}
	return value.(int64), true, nil
}

// Set stores a session count with a TTL.
func (s *MemoryStore) Set(_ context.Context, sessionID string, count int64, ttl time.Duration) error {
	s.cache.Set(sessionKey(sessionID), count, ttl)
	return nil
}
