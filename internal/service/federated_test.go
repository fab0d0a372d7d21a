package service

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://idp.example.com"
	testAudience = "shoplist"
)

func newTestVerifier(t *testing.T) (*rsa.PrivateKey, *FederatedVerifier) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	v, err := NewFederatedVerifier(publicPEM(t, &key.PublicKey), testIssuer, testAudience)
	if err != nil {
		t.Fatalf("NewFederatedVerifier returned error: %v", err)
	}
	return key, v
}

func publicPEM(t *testing.T, pub *rsa.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func validRegistered(sub string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Subject:   sub,
		Audience:  jwt.ClaimStrings{testAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims idTokenClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFederatedVerifier_Verify(t *testing.T) {
	key, v := newTestVerifier(t)

	id, err := v.Verify(signIDToken(t, key, idTokenClaims{Email: "g@example.com", RegisteredClaims: validRegistered("s1")}))
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if id.Issuer != testIssuer || id.Subject != "s1" || id.Email != "g@example.com" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestFederatedVerifier_Rejects(t *testing.T) {
	key, v := newTestVerifier(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	wrongIssuer := validRegistered("s1")
	wrongIssuer.Issuer = "https://evil.example.com"
	wrongAudience := validRegistered("s1")
	wrongAudience.Audience = jwt.ClaimStrings{"someone-else"}
	expired := validRegistered("s1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, idTokenClaims{Email: "g@example.com", RegisteredClaims: validRegistered("s1")}).
		SignedString([]byte("shared"))
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string]string{
		"wrong key":      signIDToken(t, otherKey, idTokenClaims{Email: "g@example.com", RegisteredClaims: validRegistered("s1")}),
		"wrong issuer":   signIDToken(t, key, idTokenClaims{Email: "g@example.com", RegisteredClaims: wrongIssuer}),
		"wrong audience": signIDToken(t, key, idTokenClaims{Email: "g@example.com", RegisteredClaims: wrongAudience}),
		"expired":        signIDToken(t, key, idTokenClaims{Email: "g@example.com", RegisteredClaims: expired}),
		"no email":       signIDToken(t, key, idTokenClaims{RegisteredClaims: validRegistered("s1")}),
		"hmac":           hs,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify error = %v; want %v", err, ErrInvalidToken)
			}
		})
	}
}

func TestLoadFederatedVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "idp.pem")
	if err := os.WriteFile(path, publicPEM(t, &key.PublicKey), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFederatedVerifier(path, testIssuer, ""); err != nil {
		t.Fatalf("LoadFederatedVerifier returned error: %v", err)
	}
	if _, err := LoadFederatedVerifier(filepath.Join(t.TempDir(), "missing.pem"), testIssuer, ""); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := NewFederatedVerifier([]byte("not pem"), testIssuer, ""); err == nil {
		t.Fatal("expected error for bad key")
	}
	if _, err := LoadFederatedVerifier(path, "", ""); err == nil {
		t.Fatal("expected error for empty issuer")
	}
}
