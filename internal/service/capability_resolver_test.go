package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/repository"
	"github.com/tfst/carrier-portal/internal/security"
)

// fakePrincipals is an in-memory repository.PrincipalRepository for
// resolver tests; only FindByID is exercised here.
type fakePrincipals struct {
	byID    map[uint]*domain.Principal
	findErr error
	finds   int
}

func newFakePrincipals() *fakePrincipals {
	return &fakePrincipals{byID: map[uint]*domain.Principal{}}
}

func (f *fakePrincipals) FindByID(id uint) (*domain.Principal, error) {
	f.finds++
	if f.findErr != nil {
		return nil, f.findErr
	}
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrPrincipalNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakePrincipals) FindBySalesforceUserID(sfUserID string) (*domain.Principal, error) {
	for _, p := range f.byID {
		if p.SalesforceUserID == sfUserID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrPrincipalNotFound
}

func (f *fakePrincipals) Upsert(p *domain.Principal) error {
	if existing, err := f.FindBySalesforceUserID(p.SalesforceUserID); err == nil {
		p.ID = existing.ID
	} else if p.ID == 0 {
		p.ID = uint(len(f.byID) + 1)
	}
	copied := *p
	f.byID[p.ID] = &copied
	return nil
}

func (f *fakePrincipals) TouchLastLogin(id uint, at time.Time) error {
	if p, ok := f.byID[id]; ok {
		p.LastLoginAt = &at
	}
	return nil
}

func (f *fakePrincipals) ListByCarrier(carrierID string) ([]domain.Principal, error) {
	var out []domain.Principal
	for _, p := range f.byID {
		if p.CarrierID == carrierID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func claimsForPrincipal(id string) *security.Claims {
	return &security.Claims{
		TokenType:        "session",
		CarrierID:        "CAR001",
		RegisteredClaims: jwt.RegisteredClaims{Subject: id},
	}
}

func TestCapabilityResolverReadsFlagsFromRepository(t *testing.T) {
	principals := newFakePrincipals()
	principals.byID[7] = &domain.Principal{
		ID:                 7,
		IsActive:           true,
		CanUpdateShipments: true,
		CanViewAnalytics:   true,
	}
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(principals, client, time.Minute)

	caps, err := resolver.ResolveCapabilities(context.Background(), claimsForPrincipal("7"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(caps) != 2 || caps[0] != domain.CapUpdateShipments || caps[1] != domain.CapViewAnalytics {
		t.Fatalf("unexpected capabilities: %v", caps)
	}
}

func TestCapabilityResolverCachesLookups(t *testing.T) {
	principals := newFakePrincipals()
	principals.byID[7] = &domain.Principal{ID: 7, IsActive: true, CanUpdateShipments: true}
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(principals, client, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := resolver.ResolveCapabilities(ctx, claimsForPrincipal("7")); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if principals.finds != 1 {
		t.Fatalf("expected a single repository read, got %d", principals.finds)
	}

	resolver.Invalidate(ctx, 7)
	if _, err := resolver.ResolveCapabilities(ctx, claimsForPrincipal("7")); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if principals.finds != 2 {
		t.Fatalf("expected a fresh read after invalidation, got %d", principals.finds)
	}
}

func TestCapabilityResolverInactivePrincipalHasNoCapabilities(t *testing.T) {
	principals := newFakePrincipals()
	principals.byID[7] = &domain.Principal{ID: 7, IsActive: false, CanUpdateShipments: true}
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(principals, client, time.Minute)

	caps, err := resolver.ResolveCapabilities(context.Background(), claimsForPrincipal("7"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("expected no capabilities for an inactive principal, got %v", caps)
	}
}

func TestCapabilityResolverMissingPrincipal(t *testing.T) {
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(newFakePrincipals(), client, time.Minute)

	caps, err := resolver.ResolveCapabilities(context.Background(), claimsForPrincipal("42"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(caps) != 0 {
		t.Fatalf("expected empty set, got %v", caps)
	}
}

func TestCapabilityResolverRepositoryErrorSurfaces(t *testing.T) {
	principals := newFakePrincipals()
	principals.findErr = errors.New("database offline")
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(principals, client, time.Minute)

	if _, err := resolver.ResolveCapabilities(context.Background(), claimsForPrincipal("7")); err == nil {
		t.Fatal("expected error when the repository is unavailable")
	}
}

func TestCapabilityResolverRejectsMalformedSubject(t *testing.T) {
	_, client := newRedisClientForTest(t)
	resolver := NewCapabilityResolver(newFakePrincipals(), client, time.Minute)

	if _, err := resolver.ResolveCapabilities(context.Background(), claimsForPrincipal("not-a-number")); err == nil {
		t.Fatal("expected error for malformed subject")
	}
}
