// Package sessions answers whether a trusted secure session exists for a
// (recipient, device) pair. The underlying entries are owned by the
// cryptographic store; this package only mirrors their presence into Redis
// and never creates or deletes session state on the delivery path.
package sessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Store reports secure-session presence.
type Store interface {
	ContainsSession(ctx context.Context, normalizedAddress string, deviceID int) (bool, error)
}

type redisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore creates a session presence store over the given client.
func NewRedisStore(client *redis.Client, logger *slog.Logger) Store {
	return &redisStore{client: client, logger: logger.With("component", "session_store")}
}

func sessionKey(address string, deviceID int) string {
	return fmt.Sprintf("session:%s:%d", address, deviceID)
}

func (s *redisStore) ContainsSession(ctx context.Context, normalizedAddress string, deviceID int) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(normalizedAddress, deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session presence for %s: %w", normalizedAddress, err)
	}
	return n > 0, nil
}
