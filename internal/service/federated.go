package service

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrFederationDisabled is returned when no identity provider is configured.
var ErrFederationDisabled = errors.New("federated sign-in is not configured")

// Identity is a verified federated identity.
type Identity struct {
	Issuer  string
	Subject string
	Email   string
}

type idTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// FederatedVerifier checks RS256 ID tokens issued by an external identity
// provider.
type FederatedVerifier struct {
	key      *rsa.PublicKey
	issuer   string
	audience string
	now      func() time.Time
}

// NewFederatedVerifier parses a PEM encoded RSA public key. Tokens must carry
// iss == issuer and, when audience is non-empty, include it in aud.
func NewFederatedVerifier(pemKey []byte, issuer, audience string) (*FederatedVerifier, error) {
	if issuer == "" {
		return nil, errors.New("federated issuer is required")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("parse federated key: %w", err)
	}
	return &FederatedVerifier{key: key, issuer: issuer, audience: audience, now: time.Now}, nil
}

// LoadFederatedVerifier reads the provider key from path.
func LoadFederatedVerifier(path, issuer, audience string) (*FederatedVerifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read federated key: %w", err)
	}
	return NewFederatedVerifier(data, issuer, audience)
}

// Verify checks idToken and returns the identity it asserts.
func (v *FederatedVerifier) Verify(idToken string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &idTokenClaims{}
	if _, err := jwt.ParseWithClaims(idToken, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, opts...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, fmt.Errorf("%w: missing sub or email", ErrInvalidToken)
	}
	return &Identity{Issuer: claims.Issuer, Subject: claims.Subject, Email: claims.Email}, nil
}
