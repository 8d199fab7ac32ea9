package filestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrObjectNotFound = errors.New("stored object not found")

// Store archives raw bulk-upload payloads so a processing run can be
// audited after the fact. Keys follow
// carriers/<carrier-id>/uploads/<utc-timestamp>_<filename>.
type Store interface {
	Save(ctx context.Context, carrierID, filename string, payload []byte) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, carrierID string) ([]string, error)
}

// RedisStore keeps payloads as plain values with a per-carrier index set,
// expiring both after the retention window.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "filestore"
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, prefix: prefix, retention: retention, now: time.Now}
}

func (s *RedisStore) Save(ctx context.Context, carrierID, filename string, payload []byte) (string, error) {
	key := fmt.Sprintf("carriers/%s/uploads/%s_%s", carrierID, s.now().UTC().Format("20060102T150405Z"), filename)
	index := s.indexKey(carrierID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.objectKey(key), payload, s.retention)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("save upload payload: %w", err)
	}
	return key, nil
}

func (s *RedisStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, s.objectKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch upload payload: %w", err)
	}
	return raw, nil
}

func (s *RedisStore) List(ctx context.Context, carrierID string) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey(carrierID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list upload keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) objectKey(key string) string {
	return s.prefix + ":object:" + key
}

func (s *RedisStore) indexKey(carrierID string) string {
	return s.prefix + ":index:" + carrierID
}
