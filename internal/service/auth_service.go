package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/repository"
	"github.com/tfst/carrier-portal/internal/security"
)

var (
	ErrInvalidState          = errors.New("invalid or already used login state")
	ErrProviderDenied        = errors.New("authorization denied by provider")
	ErrMissingCode           = errors.New("authorization code missing from callback")
	ErrTokenExchangeFailed   = errors.New("token exchange with provider failed")
	ErrIdentityFetchFailed   = errors.New("identity lookup with provider failed")
	ErrCarrierNotFound       = errors.New("no carrier affiliation for this account")
	ErrCarrierInactive       = errors.New("carrier account is deactivated")
	ErrPortalAccountInactive = errors.New("portal account is deactivated")
	ErrUnauthenticated       = errors.New("not authenticated")
	ErrSessionExpired        = errors.New("session expired, login required")
)

// LoginResult is what a completed login hands to the HTTP layer.
type LoginResult struct {
	Token     string
	TokenID   string
	Principal *domain.Principal
	ExpiresAt time.Time
}

// AuthService drives the OAuth login state machine and the session
// credential lifecycle.
type AuthService struct {
	provider   crm.OAuthProvider
	crmClient  crm.Client
	principals repository.PrincipalRepository
	sessions   repository.SessionRepository
	tokens     TokenStore
	states     StateStore
	stateCodec *security.StateCodec
	jwtMgr     *security.JWTManager
	sessionTTL time.Duration
	now        func() time.Time
}

func NewAuthService(
	provider crm.OAuthProvider,
	crmClient crm.Client,
	principals repository.PrincipalRepository,
	sessions repository.SessionRepository,
	tokens TokenStore,
	states StateStore,
	stateCodec *security.StateCodec,
	jwtMgr *security.JWTManager,
	sessionTTL time.Duration,
) *AuthService {
	if sessionTTL <= 0 {
		sessionTTL = 2 * time.Hour
	}
	return &AuthService{
		provider:   provider,
		crmClient:  crmClient,
		principals: principals,
		sessions:   sessions,
		tokens:     tokens,
		states:     states,
		stateCodec: stateCodec,
		jwtMgr:     jwtMgr,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// BeginLogin mints a fresh state token and returns the provider authorize
// URL to redirect the browser to.
func (s *AuthService) BeginLogin(_ context.Context) (string, error) {
	state, err := s.stateCodec.Issue()
	if err != nil {
		return "", fmt.Errorf("issue login state: %w", err)
	}
	return s.provider.AuthCodeURL(state), nil
}

// CompleteLogin runs the callback leg. The state is verified and consumed
// before any other outcome is evaluated, so a replayed callback fails even
// when the provider reported an error.
func (s *AuthService) CompleteLogin(ctx context.Context, code, state, providerErr, userAgent, ip string) (*LoginResult, error) {
	nonce, err := s.stateCodec.Verify(state)
	if err != nil {
		observability.RecordAuthLogin("salesforce", "invalid_state")
		return nil, ErrInvalidState
	}
	fresh, err := s.states.Consume(ctx, nonce)
	if err != nil {
		return nil, fmt.Errorf("consume login state: %w", err)
	}
	if !fresh {
		observability.RecordAuthLogin("salesforce", "state_reuse")
		return nil, ErrInvalidState
	}

	if providerErr != "" {
		observability.RecordAuthLogin("salesforce", "provider_denied")
		return nil, ErrProviderDenied
	}
	if code == "" {
		observability.RecordAuthLogin("salesforce", "missing_code")
		return nil, ErrMissingCode
	}

	cred, err := s.provider.Exchange(ctx, code)
	if err != nil {
		observability.RecordAuthLogin("salesforce", "exchange_failed")
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}

	info, err := s.crmClient.FetchUserInfo(ctx, cred)
	if err != nil {
		observability.RecordAuthLogin("salesforce", "identity_failed")
		return nil, fmt.Errorf("%w: %w", ErrIdentityFetchFailed, err)
	}

	carrier, err := s.crmClient.FindCarrierForUser(ctx, cred, info.UserID)
	if err != nil {
		observability.RecordAuthLogin("salesforce", "no_carrier")
		if errors.Is(err, crm.ErrCarrierNotFound) {
			return nil, ErrCarrierNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrIdentityFetchFailed, err)
	}
	if !carrier.IsActive {
		observability.RecordAuthLogin("salesforce", "carrier_inactive")
		return nil, ErrCarrierInactive
	}

	// The portal-side active flag is operator-managed; a repeat login must
	// carry the stored value instead of switching the account back on.
	active := true
	if existing, err := s.principals.FindBySalesforceUserID(info.UserID); err == nil {
		active = existing.IsActive
	} else if !errors.Is(err, repository.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("look up principal: %w", err)
	}

	principal := &domain.Principal{
		SalesforceUserID:   info.UserID,
		Email:              info.Email,
		Name:               info.Name,
		CarrierID:          carrier.ID,
		CarrierName:        carrier.Name,
		PhoneNumber:        carrier.ContactNumber,
		IsActive:           active,
		CanUpdateShipments: carrier.CanUpdateShipments,
		CanUploadDocuments: carrier.CanUploadDocuments,
		CanViewAnalytics:   carrier.CanViewAnalytics,
	}
	if err := s.principals.Upsert(principal); err != nil {
		return nil, fmt.Errorf("upsert principal: %w", err)
	}
	if !principal.IsActive {
		observability.RecordAuthLogin("salesforce", "account_inactive")
		return nil, ErrPortalAccountInactive
	}
	loginAt := s.now().UTC()
	if err := s.principals.TouchLastLogin(principal.ID, loginAt); err != nil {
		return nil, fmt.Errorf("record last login: %w", err)
	}
	principal.LastLoginAt = &loginAt

	token, jti, err := s.jwtMgr.SignSessionToken(
		principal.ID, principal.CarrierID, principal.CarrierName, principal.Capabilities(), s.sessionTTL)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	if err := s.tokens.Save(ctx, jti, cred, s.sessionTTL); err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.sessionTTL)
	if err := s.sessions.Create(&domain.Session{
		PrincipalID: principal.ID,
		TokenID:     jti,
		UserAgent:   userAgent,
		IP:          ip,
		ExpiresAt:   expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}

	observability.RecordAuthLogin("salesforce", "success")
	return &LoginResult{Token: token, TokenID: jti, Principal: principal, ExpiresAt: expiresAt}, nil
}

// EnsureValidToken returns a usable credential for the session, refreshing
// it once when the access token has run out. A failed or impossible refresh
// tears the session down.
func (s *AuthService) EnsureValidToken(ctx context.Context, tokenID string) (*crm.Credential, error) {
	cred, err := s.tokens.Get(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if !cred.Expired(s.now()) {
		return cred, nil
	}
	if cred.RefreshToken == "" {
		observability.RecordAuthRefresh("no_refresh_token")
		_ = s.tokens.Delete(ctx, tokenID)
		_ = s.sessions.RevokeByTokenID(tokenID, "token_expired")
		return nil, ErrSessionExpired
	}
	refreshed, err := s.provider.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		_ = s.tokens.Delete(ctx, tokenID)
		_ = s.sessions.RevokeByTokenID(tokenID, "refresh_failed")
		return nil, ErrSessionExpired
	}
	if refreshed.InstanceURL == "" {
		refreshed.InstanceURL = cred.InstanceURL
	}
	if err := s.tokens.Save(ctx, tokenID, refreshed, s.sessionTTL); err != nil {
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return refreshed, nil
}

// CredentialInfo exposes the stored credential without triggering a refresh,
// for the session verification view.
func (s *AuthService) CredentialInfo(ctx context.Context, tokenID string) (*crm.Credential, error) {
	cred, err := s.tokens.Get(ctx, tokenID)
	if errors.Is(err, ErrCredentialNotFound) {
		return nil, ErrSessionExpired
	}
	return cred, err
}

func (s *AuthService) Logout(ctx context.Context, tokenID string) error {
	if err := s.tokens.Delete(ctx, tokenID); err != nil {
		observability.RecordAuthLogout("failure")
		return err
	}
	if err := s.sessions.RevokeByTokenID(tokenID, "logout"); err != nil {
		observability.RecordAuthLogout("failure")
		return err
	}
	observability.RecordAuthLogout("success")
	return nil
}

func (s *AuthService) Principal(id uint) (*domain.Principal, error) {
	return s.principals.FindByID(id)
}
