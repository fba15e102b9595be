package session

import (
	"context"
	"time"
)

// Store persists per-session message counts between connections so a client
// reconnecting with the same session ID resumes where it left off. Entries
// expire on their own; the store never returns stale records.
type Store interface {
	// Get retrieves the cached message count for a session ID.
	// A missing or expired record is reported as ok=false, never as an error.
	Get(ctx context.Context, sessionID string) (count int64, ok bool, err error)
	// Set writes the message count for a session ID with the given TTL.
	Set(ctx context.Context, sessionID string, count int64, ttl time.Duration) error
}
