package crm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenValidity is applied when the provider's token response does
// not carry an explicit expiry.
const DefaultTokenValidity = 2 * time.Hour

// OAuthProvider performs the authorization-code and refresh grants against
// the CRM's identity endpoints.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Credential, error)
	Refresh(ctx context.Context, refreshToken string) (*Credential, error)
}

type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	AuthURL       string
	TokenURL      string
	Scopes        []string
	TokenValidity time.Duration
}

type oauthProvider struct {
	cfg      *oauth2.Config
	validity time.Duration
	now      func() time.Time
}

func NewOAuthProvider(cfg OAuthConfig) OAuthProvider {
	validity := cfg.TokenValidity
	if validity <= 0 {
		validity = DefaultTokenValidity
	}
	return &oauthProvider{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		validity: validity,
		now:      time.Now,
	}
}

func (p *oauthProvider) AuthCodeURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *oauthProvider) Exchange(ctx context.Context, code string) (*Credential, error) {
	tok, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return p.credentialFromToken(tok, ""), nil
}

// Refresh runs the refresh grant. Providers commonly omit the refresh token
// from refresh responses, so the one we already hold is carried forward.
func (p *oauthProvider) Refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	src := p.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	return p.credentialFromToken(tok, refreshToken), nil
}

func (p *oauthProvider) credentialFromToken(tok *oauth2.Token, fallbackRefresh string) *Credential {
	now := p.now().UTC()
	expires := tok.Expiry
	if expires.IsZero() {
		expires = now.Add(p.validity)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	instanceURL, _ := tok.Extra("instance_url").(string)
	return &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		InstanceURL:  instanceURL,
		IssuedAt:     now,
		ExpiresAt:    expires,
	}
}
