package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore implements the Store interface using Redis with native key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new RedisStore.
func NewRedisStore(client *redis.Client) Store {
	return &RedisStore{client: client}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("ws_session:%s", sessionID)
}

// Get retrieves a session count from Redis.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (int64, bool, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil // Not found is not an error, just means no session
		}
		return 0, false, err
	}

	count, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("failed to parse session count: %w", err)
	}
	return count, true, nil
}

// Set stores a session count in Redis with a TTL.
func (s *RedisStore) Set(ctx context.Context, sessionID string, count int64, ttl time.Duration) error {
	return s.client.Set(ctx, sessionKey(sessionID), count, ttl).Err()
}
