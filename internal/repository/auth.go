// Package repository provides persistence implementations for users, token
// revocations and documents using a PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"github.com/lib/pq"
)

var (
	// ErrUserExists is returned when an email or federated identity is taken.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user matches a lookup.
	ErrUserNotFound = errors.New("user not found")
)

// uniqueViolation is the Postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// PostgresAuthRepository implements user and token persistence using a PostgreSQL database.
type PostgresAuthRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresAuthRepository creates a new PostgresAuthRepository with the given database connection.
// db must be a valid *sql.DB connected to a PostgreSQL instance.
func NewPostgresAuthRepository(db *sql.DB) *PostgresAuthRepository {
	return &PostgresAuthRepository{DB: db}
}

// CreateUser inserts u. It returns ErrUserExists if the email is taken.
func (r *PostgresAuthRepository) CreateUser(ctx context.Context, u models.User) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, provider, subject)
		VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.PasswordHash, u.Provider, u.Subject)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	return nil
}

// GetUserByEmail fetches the user registered with email.
// It returns ErrUserNotFound if there is none.
func (r *PostgresAuthRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, email, COALESCE(password_hash, ''::bytea), provider, subject
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Provider, &u.Subject)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetUserByEmail: %w", err)
	}
	return &u, nil
}

// UpsertFederatedUser creates the user identified by (u.Provider, u.Subject)
// or refreshes its email, and returns the stored record.
// If the email already belongs to another account it returns ErrUserExists.
func (r *PostgresAuthRepository) UpsertFederatedUser(ctx context.Context, u models.User) (*models.User, error) {
	var out models.User
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO users (id, email, provider, subject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, subject) WHERE subject <> '' DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, provider, subject
	`, u.ID, u.Email, u.Provider, u.Subject).Scan(&out.ID, &out.Email, &out.Provider, &out.Subject)
	if isUniqueViolation(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("UpsertFederatedUser: %w", err)
	}
	return &out, nil
}

// RevokeToken records tokenID as revoked until expiresAt.
func (r *PostgresAuthRepository) RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO revoked_tokens (token_id, expires_at) VALUES ($1, $2)
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("RevokeToken: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether tokenID has been revoked.
func (r *PostgresAuthRepository) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := r.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id = $1)`,
		tokenID,
	).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("IsTokenRevoked: %w", err)
	}
	return revoked, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
