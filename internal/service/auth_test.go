package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"github.com/atinyakov/shoplist/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

type mockAuthRepo struct {
	CreateUserFunc          func(ctx context.Context, u models.User) error
	GetUserByEmailFunc      func(ctx context.Context, email string) (*models.User, error)
	UpsertFederatedUserFunc func(ctx context.Context, u models.User) (*models.User, error)
	RevokeTokenFunc         func(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevokedFunc      func(ctx context.Context, tokenID string) (bool, error)
}

func (m *mockAuthRepo) CreateUser(ctx context.Context, u models.User) error {
	return m.CreateUserFunc(ctx, u)
}
func (m *mockAuthRepo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.GetUserByEmailFunc(ctx, email)
}
func (m *mockAuthRepo) UpsertFederatedUser(ctx context.Context, u models.User) (*models.User, error) {
	return m.UpsertFederatedUserFunc(ctx, u)
}
func (m *mockAuthRepo) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	return m.RevokeTokenFunc(ctx, tokenID, expiresAt)
}
func (m *mockAuthRepo) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	return m.IsTokenRevokedFunc(ctx, tokenID)
}

func newTestService(repo AuthRepository, opts ...AuthOption) *Service {
	opts = append([]AuthOption{WithBcryptCost(bcrypt.MinCost)}, opts...)
	return NewAuthService(repo, NewTokenIssuer("test-secret", time.Hour), opts...)
}

func TestRegister_Success(t *testing.T) {
	var stored models.User
	repo := &mockAuthRepo{
		CreateUserFunc: func(ctx context.Context, u models.User) error {
			stored = u
			return nil
		},
	}
	svc := newTestService(repo)

	sess, err := svc.Register(context.Background(), "  Bob@Example.com ", "secret1")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if stored.Email != "bob@example.com" {
		t.Errorf("stored email = %q; want %q", stored.Email, "bob@example.com")
	}
	if stored.Provider != models.ProviderPassword || stored.ID == "" {
		t.Errorf("unexpected stored user: %+v", stored)
	}
	if err := bcrypt.CompareHashAndPassword(stored.PasswordHash, []byte("secret1")); err != nil {
		t.Errorf("stored hash does not match password: %v", err)
	}
	if sess.UserID != stored.ID || sess.Token == "" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestRegister_Validation(t *testing.T) {
	repo := &mockAuthRepo{
		CreateUserFunc: func(context.Context, models.User) error {
			t.Fatal("CreateUser must not be called")
			return nil
		},
	}
	svc := newTestService(repo)

	cases := []struct {
		email, password string
		want            error
	}{
		{"not-an-email", "secret1", ErrInvalidEmail},
		{"Bob <bob@example.com>", "secret1", ErrInvalidEmail},
		{"bob@example.com", "12345", ErrWeakPassword},
	}
	for _, tc := range cases {
		if _, err := svc.Register(context.Background(), tc.email, tc.password); !errors.Is(err, tc.want) {
			t.Errorf("Register(%q, %q) error = %v; want %v", tc.email, tc.password, err, tc.want)
		}
	}
}

func TestRegister_EmailTaken(t *testing.T) {
	repo := &mockAuthRepo{
		CreateUserFunc: func(context.Context, models.User) error {
			return repository.ErrUserExists
		},
	}
	svc := newTestService(repo)

	if _, err := svc.Register(context.Background(), "bob@example.com", "secret1"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("Register error = %v; want %v", err, ErrEmailTaken)
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	users := map[string]*models.User{
		"bob@example.com": {ID: "u1", Email: "bob@example.com", PasswordHash: hash, Provider: models.ProviderPassword},
		"fed@example.com": {ID: "u2", Email: "fed@example.com", Provider: "idp", Subject: "s"},
	}
	repo := &mockAuthRepo{
		GetUserByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if u, ok := users[email]; ok {
				return u, nil
			}
			return nil, repository.ErrUserNotFound
		},
	}
	svc := newTestService(repo)

	sess, err := svc.Login(context.Background(), "BOB@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if sess.UserID != "u1" {
		t.Errorf("session user = %q; want u1", sess.UserID)
	}

	for _, tc := range []struct{ email, password string }{
		{"bob@example.com", "wrong!"},
		{"nobody@example.com", "secret1"},
		{"fed@example.com", ""},
		{"garbage", "secret1"},
	} {
		if _, err := svc.Login(context.Background(), tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("Login(%q) error = %v; want %v", tc.email, err, ErrInvalidCredentials)
		}
	}
}

func TestLogin_RepoError(t *testing.T) {
	wantErr := errors.New("db error")
	repo := &mockAuthRepo{
		GetUserByEmailFunc: func(context.Context, string) (*models.User, error) {
			return nil, wantErr
		},
	}
	svc := newTestService(repo)

	if _, err := svc.Login(context.Background(), "bob@example.com", "secret1"); err != wantErr {
		t.Fatalf("Login error = %v; want %v", err, wantErr)
	}
}

func TestAuthenticateAndLogout(t *testing.T) {
	revoked := map[string]time.Time{}
	repo := &mockAuthRepo{
		RevokeTokenFunc: func(ctx context.Context, id string, exp time.Time) error {
			revoked[id] = exp
			return nil
		},
		IsTokenRevokedFunc: func(ctx context.Context, id string) (bool, error) {
			_, ok := revoked[id]
			return ok, nil
		},
	}
	svc := newTestService(repo)
	sess, err := svc.tokens.Issue(models.User{ID: "u1", Email: "bob@example.com"})
	if err != nil {
		t.Fatal(err)
	}

	claims, err := svc.Authenticate(context.Background(), sess.Token)
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "bob@example.com" {
		t.Errorf("unexpected claims: %+v", claims)
	}

	if err := svc.Logout(context.Background(), sess.Token); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	if exp := revoked[claims.ID]; !exp.Equal(sess.ExpiresAt) {
		t.Errorf("revoked until %v; want %v", exp, sess.ExpiresAt)
	}
	if _, err := svc.Authenticate(context.Background(), sess.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Authenticate after logout error = %v; want %v", err, ErrInvalidToken)
	}
}

func TestLogout_InvalidToken(t *testing.T) {
	svc := newTestService(&mockAuthRepo{})
	if err := svc.Logout(context.Background(), "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Logout error = %v; want %v", err, ErrInvalidToken)
	}
}

func TestLoginFederated_Disabled(t *testing.T) {
	svc := newTestService(&mockAuthRepo{})
	if _, err := svc.LoginFederated(context.Background(), "token"); !errors.Is(err, ErrFederationDisabled) {
		t.Fatalf("LoginFederated error = %v; want %v", err, ErrFederationDisabled)
	}
}

func TestLoginFederated_Success(t *testing.T) {
	key, verifier := newTestVerifier(t)
	var upserted models.User
	repo := &mockAuthRepo{
		UpsertFederatedUserFunc: func(ctx context.Context, u models.User) (*models.User, error) {
			upserted = u
			out := u
			out.ID = "existing"
			return &out, nil
		},
	}
	svc := newTestService(repo, WithFederatedVerifier(verifier))

	sess, err := svc.LoginFederated(context.Background(), signIDToken(t, key, idTokenClaims{
		Email:            "Gina@Example.com",
		RegisteredClaims: validRegistered("sub-9"),
	}))
	if err != nil {
		t.Fatalf("LoginFederated returned error: %v", err)
	}
	if upserted.Provider != testIssuer || upserted.Subject != "sub-9" || upserted.Email != "gina@example.com" {
		t.Errorf("unexpected upserted user: %+v", upserted)
	}
	if sess.UserID != "existing" {
		t.Errorf("session user = %q; want existing", sess.UserID)
	}
}

func TestLoginFederated_EmailTaken(t *testing.T) {
	key, verifier := newTestVerifier(t)
	repo := &mockAuthRepo{
		UpsertFederatedUserFunc: func(context.Context, models.User) (*models.User, error) {
			return nil, repository.ErrUserExists
		},
	}
	svc := newTestService(repo, WithFederatedVerifier(verifier))

	_, err := svc.LoginFederated(context.Background(), signIDToken(t, key, idTokenClaims{
		Email:            "gina@example.com",
		RegisteredClaims: validRegistered("sub-9"),
	}))
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("LoginFederated error = %v; want %v", err, ErrEmailTaken)
	}
}
