package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/repository"
	"github.com/tfst/carrier-portal/internal/security"
)

// CapabilityResolver re-derives the principal's capability set from the
// portal database rather than trusting the set baked into the session token,
// so a flag flipped in the CRM takes effect before the token expires. Lookups
// are cached in redis for a short TTL.
type CapabilityResolver struct {
	principals repository.PrincipalRepository
	cache      redis.UniversalClient
	prefix     string
	ttl        time.Duration
}

func NewCapabilityResolver(principals repository.PrincipalRepository, cache redis.UniversalClient, ttl time.Duration) *CapabilityResolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CapabilityResolver{
		principals: principals,
		cache:      cache,
		prefix:     "capabilities",
		ttl:        ttl,
	}
}

func (r *CapabilityResolver) ResolveCapabilities(ctx context.Context, claims *security.Claims) ([]string, error) {
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed principal id in claims: %w", err)
	}

	if caps, ok := r.fromCache(ctx, id); ok {
		observability.RecordCapabilityCacheEvent(ctx, "hit")
		return caps, nil
	}
	observability.RecordCapabilityCacheEvent(ctx, "miss")

	principal, err := r.principals.FindByID(uint(id))
	if err != nil {
		if errors.Is(err, repository.ErrPrincipalNotFound) {
			// A vanished or deactivated principal has no capabilities.
			return []string{}, nil
		}
		return nil, err
	}
	caps := principal.Capabilities()
	if !principal.IsActive {
		caps = []string{}
	}
	r.store(ctx, id, caps)
	return caps, nil
}

// Invalidate drops the cached set, used after a login refreshes the flags.
func (r *CapabilityResolver) Invalidate(ctx context.Context, principalID uint) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, r.key(uint64(principalID))).Err(); err != nil {
		observability.RecordCapabilityCacheEvent(ctx, "invalidate_error")
	}
}

func (r *CapabilityResolver) fromCache(ctx context.Context, id uint64) ([]string, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, r.key(id)).Result()
	if err != nil {
		if err != redis.Nil {
			observability.RecordCapabilityCacheEvent(ctx, "read_error")
		}
		return nil, false
	}
	var caps []string
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		return nil, false
	}
	return caps, true
}

func (r *CapabilityResolver) store(ctx context.Context, id uint64, caps []string) {
	if r.cache == nil {
		return
	}
	encoded, err := json.Marshal(caps)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.key(id), encoded, r.ttl).Err(); err != nil {
		observability.RecordCapabilityCacheEvent(ctx, "write_error")
	}
}

func (r *CapabilityResolver) key(id uint64) string {
	return fmt.Sprintf("%s:%d", r.prefix, id)
}
