package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore enforces single use of login state nonces. Consume returns
// true exactly once per nonce within the retention window.
type StateStore interface {
	Consume(ctx context.Context, nonce string) (bool, error)
}

type RedisStateStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStateStore retains consumed nonces a little past the codec's
// freshness window so a replayed-but-stale state never races the expiry.
func NewRedisStateStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStateStore {
	if prefix == "" {
		prefix = "login_state"
	}
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &RedisStateStore{client: client, prefix: prefix, retention: retention}
}

func (s *RedisStateStore) Consume(ctx context.Context, nonce string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+":"+nonce, "1", s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("consume login state: %w", err)
	}
	return ok, nil
}
