package service

import (
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return now }

	sess, err := issuer.Issue(models.User{ID: "u1", Email: "bob@example.com"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !sess.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v; want %v", sess.ExpiresAt, now.Add(time.Hour))
	}

	claims, err := issuer.Parse(sess.Token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "bob@example.com" || claims.ID == "" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	sess, err := issuer.Issue(models.User{ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}

	other := NewTokenIssuer("other-secret", time.Hour)
	later := NewTokenIssuer("secret", time.Hour)
	later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", ID: "j"},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ID: "j", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		issuer *TokenIssuer
		token  string
	}{
		{"garbage", issuer, "garbage"},
		{"wrong secret", other, sess.Token},
		{"expired", later, sess.Token},
		{"no expiry", issuer, noExpiry},
		{"no subject", issuer, noSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.issuer.Parse(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Parse error = %v; want %v", err, ErrInvalidToken)
			}
		})
	}
}
