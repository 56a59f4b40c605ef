package storage

import (
	"context"
	"time"
)

// SessionStore maps opaque session tokens to user ids.
// Implementations: redis.Client, memory.Client (for running without Redis).
type SessionStore interface {
	Set(ctx context.Context, token, userID string, ttl time.Duration) error
	// Get returns the user id for the token, or "" if the token is unknown
	// or expired.
	Get(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
	Close() error
}
