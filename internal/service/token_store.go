package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tfst/carrier-portal/internal/crm"
)

var ErrCredentialNotFound = errors.New("session credential not found")

// TokenStore holds the CRM credential for each live portal session, keyed
// by the session token's jti. The browser only ever sees the portal JWT.
type TokenStore interface {
	Save(ctx context.Context, tokenID string, cred *crm.Credential, ttl time.Duration) error
	Get(ctx context.Context, tokenID string) (*crm.Credential, error)
	Delete(ctx context.Context, tokenID string) error
}

type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "session_credential"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) Save(ctx context.Context, tokenID string, cred *crm.Credential, ttl time.Duration) error {
	encoded, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode session credential: %w", err)
	}
	if err := s.client.Set(ctx, s.key(tokenID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("save session credential: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Get(ctx context.Context, tokenID string) (*crm.Credential, error) {
	raw, err := s.client.Get(ctx, s.key(tokenID)).Result()
	if err == redis.Nil {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session credential: %w", err)
	}
	var cred crm.Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("decode session credential: %w", err)
	}
	return &cred, nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, tokenID string) error {
	if err := s.client.Del(ctx, s.key(tokenID)).Err(); err != nil {
		return fmt.Errorf("delete session credential: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) key(tokenID string) string {
	return s.prefix + ":" + tokenID
}
