package repository

import (
	"context"
	"sync"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
)

// MemoryAuthRepository keeps users and revocations in process memory.
// It backs the server when no database is configured.
type MemoryAuthRepository struct {
	mu      sync.Mutex
	byEmail map[string]models.User
	revoked map[string]time.Time
}

// NewMemoryAuthRepository returns an empty repository.
func NewMemoryAuthRepository() *MemoryAuthRepository {
	return &MemoryAuthRepository{
		byEmail: make(map[string]models.User),
		revoked: make(map[string]time.Time),
	}
}

// CreateUser stores u. It returns ErrUserExists if the email is taken.
func (r *MemoryAuthRepository) CreateUser(_ context.Context, u models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return ErrUserExists
	}
	r.byEmail[u.Email] = u
	return nil
}

// GetUserByEmail returns the user registered with email.
func (r *MemoryAuthRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

// UpsertFederatedUser creates or refreshes the user identified by
// (u.Provider, u.Subject).
func (r *MemoryAuthRepository) UpsertFederatedUser(_ context.Context, u models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for email, existing := range r.byEmail {
		if existing.Provider != u.Provider || existing.Subject != u.Subject {
			continue
		}
		if email != u.Email {
			if _, taken := r.byEmail[u.Email]; taken {
				return nil, ErrUserExists
			}
			delete(r.byEmail, email)
			existing.Email = u.Email
			r.byEmail[u.Email] = existing
		}
		return &existing, nil
	}
	if _, taken := r.byEmail[u.Email]; taken {
		return nil, ErrUserExists
	}
	r.byEmail[u.Email] = u
	return &u, nil
}

// RevokeToken records tokenID as revoked until expiresAt.
func (r *MemoryAuthRepository) RevokeToken(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[tokenID] = expiresAt
	return nil
}

// IsTokenRevoked reports whether tokenID has been revoked. Expired records
// are dropped on lookup.
func (r *MemoryAuthRepository) IsTokenRevoked(_ context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[tokenID]
	if ok && time.Now().After(exp) {
		delete(r.revoked, tokenID)
		return false, nil
	}
	return ok, nil
}
