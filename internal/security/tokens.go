package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or signed by another key.
	ErrInvalidToken = errors.New("invalid token")
)

// ImpersonationClaims are carried by the token handed to an impersonating actor.
// The JWT ID is the impersonation record ID; the record, not the token, decides whether
// the impersonation is still open, which keeps the token single-use.
type ImpersonationClaims struct {
	jwt.RegisteredClaims
	ImpersonatorID string `json:"imp_by"`
	TenantID       string `json:"tenant_id,omitempty"`
}

// TokenProvider issues and validates impersonation tokens using RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and verifies with publicKey.
// issuer and audience are set on issued claims and enforced on validation.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock makes the provider read time from now, which must return UTC.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	if now != nil {
		p.now = now
	}
	return p
}

// IssueImpersonation signs a token for impersonation record id, from impersonatorID as targetID,
// valid until expiresAt.
func (p *TokenProvider) IssueImpersonation(id, impersonatorID, targetID, tenantID string, expiresAt time.Time) (string, error) {
	now := p.now()
	claims := ImpersonationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   targetID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		ImpersonatorID: impersonatorID,
		TenantID:       tenantID,
	}
	return p.sign(claims)
}

// ValidateImpersonation parses tokenString and checks signature, expiry, issuer, and audience.
func (p *TokenProvider) ValidateImpersonation(tokenString string) (*ImpersonationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ImpersonationClaims{}, p.keyFunc,
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*ImpersonationClaims)
	if !ok || !token.Valid || claims.ID == "" || !slices.Contains(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		return p.publicKey, nil
	default:
		return nil, ErrInvalidToken
	}
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}
