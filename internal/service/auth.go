// Package service provides authentication and document business logic,
// delegating persistence to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"github.com/atinyakov/shoplist/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

var (
	// ErrInvalidEmail is returned for addresses that do not parse.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword is returned for passwords shorter than MinPasswordLength.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	// ErrEmailTaken is returned when registering an email that is in use.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// CreateUser stores a new user. It returns repository.ErrUserExists if
	// the email is taken.
	CreateUser(ctx context.Context, u models.User) error
	// GetUserByEmail returns repository.ErrUserNotFound if nobody uses email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// UpsertFederatedUser creates or refreshes a federated user.
	UpsertFederatedUser(ctx context.Context, u models.User) (*models.User, error)
	// RevokeToken marks a token ID as revoked until expiresAt.
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	// IsTokenRevoked reports whether a token ID was revoked.
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Service implements authentication operations by delegating
// to an AuthRepository.
type Service struct {
	repo       AuthRepository
	tokens     *TokenIssuer
	federated  *FederatedVerifier
	bcryptCost int
	log        *zap.Logger
}

// AuthOption configures a Service.
type AuthOption func(*Service)

// WithFederatedVerifier enables LoginFederated.
func WithFederatedVerifier(v *FederatedVerifier) AuthOption {
	return func(s *Service) { s.federated = v }
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) AuthOption {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithAuthLogger sets the service logger.
func WithAuthLogger(log *zap.Logger) AuthOption {
	return func(s *Service) { s.log = log }
}

// NewAuthService constructs a new Service using the provided repository
// and token issuer.
func NewAuthService(repo AuthRepository, tokens *TokenIssuer, opts ...AuthOption) *Service {
	s := &Service{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcrypt.DefaultCost,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a password account and signs it in.
func (s *Service) Register(ctx context.Context, email, password string) (*models.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Provider:     models.ProviderPassword,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info("user registered", zap.String("user", u.ID))
	return s.tokens.Issue(u)
}

// Login checks email and password and issues a session.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	u, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if len(u.PasswordHash) == 0 {
		// federated account
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.tokens.Issue(*u)
}

// LoginFederated verifies an ID token from the configured identity provider,
// creating the account on first use, and issues a session.
func (s *Service) LoginFederated(ctx context.Context, idToken string) (*models.Session, error) {
	if s.federated == nil {
		return nil, ErrFederationDisabled
	}
	id, err := s.federated.Verify(idToken)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(id.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	u, err := s.repo.UpsertFederatedUser(ctx, models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Provider: id.Issuer,
		Subject:  id.Subject,
	})
	if errors.Is(err, repository.ErrUserExists) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return s.tokens.Issue(*u)
}

// Authenticate verifies a session token and rejects revoked ones.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.repo.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: revoked", ErrInvalidToken)
	}
	return claims, nil
}

// Logout revokes token until it would have expired anyway.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return err
	}
	if err := s.repo.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return err
	}
	s.log.Info("user signed out", zap.String("user", claims.Subject))
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}
