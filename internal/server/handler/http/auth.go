// Package http provides HTTP handlers for registration, sign-in and
// sign-out.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/shoplist/internal/middleware"
	"github.com/atinyakov/shoplist/internal/models"
	"github.com/atinyakov/shoplist/internal/service"
)

// AuthService defines the interface for authentication operations
// required by the HTTP handlers.
type AuthService interface {
	// Register creates a password account and returns its first session.
	Register(ctx context.Context, email, password string) (*models.Session, error)
	// Login checks email and password and returns a new session.
	Login(ctx context.Context, email, password string) (*models.Session, error)
	// LoginFederated exchanges an external ID token for a session.
	LoginFederated(ctx context.Context, idToken string) (*models.Session, error)
	// Logout revokes a session token.
	Logout(ctx context.Context, token string) error
}

// AuthHandler handles HTTP requests for user registration, sign-in and sign-out.
type AuthHandler struct {
	// AuthService performs the underlying authentication operations.
	AuthService AuthService
}

// CredentialsRequest is the JSON payload for registration and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FederatedLoginRequest is the JSON payload for federated login.
type FederatedLoginRequest struct {
	IDToken string `json:"id_token"`
}

// Register handles POST /api/register.
// It expects {"email","password"} and responds with the new session.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sess, err := h.AuthService.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrWeakPassword):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, service.ErrEmailTaken):
		http.Error(w, "user already exists", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeSession(w, sess)
}

// Login handles POST /api/login with {"email","password"}.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sess, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		http.Error(w, "invalid email or password", http.StatusUnauthorized)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeSession(w, sess)
}

// LoginFederated handles POST /api/login/federated with {"id_token"}.
func (h *AuthHandler) LoginFederated(w http.ResponseWriter, r *http.Request) {
	var req FederatedLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	sess, err := h.AuthService.LoginFederated(r.Context(), req.IDToken)
	switch {
	case errors.Is(err, service.ErrFederationDisabled):
		http.Error(w, err.Error(), http.StatusNotImplemented)
		return
	case errors.Is(err, service.ErrInvalidToken):
		http.Error(w, "invalid id token", http.StatusUnauthorized)
		return
	case errors.Is(err, service.ErrEmailTaken):
		http.Error(w, "user already exists", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeSession(w, sess)
}

// Logout handles POST /api/logout. The bearer token of the request is revoked.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetTokenFromContext(r.Context())
	err := h.AuthService.Logout(r.Context(), token)
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		http.Error(w, "invalid session", http.StatusUnauthorized)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSession(w http.ResponseWriter, sess *models.Session) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sess)
}
