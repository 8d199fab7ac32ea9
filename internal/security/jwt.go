package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the portal session token payload. The jti keys the server-side
// CRM credential in the token store, so parsing a session token alone is
// never enough to reach the CRM.
type Claims struct {
	TokenType    string   `json:"token_type"`
	CarrierID    string   `json:"carrier_id,omitempty"`
	CarrierName  string   `json:"carrier_name,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	issuer        string
	audience      string
	sessionSecret []byte
	now           func() time.Time
}

func NewJWTManager(issuer, audience, sessionSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		sessionSecret: []byte(sessionSecret),
		now:           time.Now,
	}
}

func (m *JWTManager) SignSessionToken(principalID uint, carrierID, carrierName string, capabilities []string, ttl time.Duration) (string, string, error) {
	return m.SignSessionTokenWithJTI(principalID, carrierID, carrierName, capabilities, ttl, uuid.NewString())
}

// SignSessionTokenWithJTI returns the signed token and the jti it carries.
func (m *JWTManager) SignSessionTokenWithJTI(principalID uint, carrierID, carrierName string, capabilities []string, ttl time.Duration, jti string) (string, string, error) {
	if jti == "" {
		jti = uuid.NewString()
	}
	now := m.now()
	claims := Claims{
		TokenType:    "session",
		CarrierID:    carrierID,
		CarrierName:  carrierName,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", principalID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.sessionSecret)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

func (m *JWTManager) ParseSessionToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return m.sessionSecret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != "session" {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
