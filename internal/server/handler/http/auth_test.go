package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"github.com/atinyakov/shoplist/internal/service"
)

// fakeAuthService implements AuthService for testing.
type fakeAuthService struct {
	session   *models.Session
	err       error
	gotEmail  string
	gotPass   string
	gotToken  string
	logoutErr error
}

func (f *fakeAuthService) Register(ctx context.Context, email, password string) (*models.Session, error) {
	f.gotEmail, f.gotPass = email, password
	return f.session, f.err
}

func (f *fakeAuthService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	f.gotEmail, f.gotPass = email, password
	return f.session, f.err
}

func (f *fakeAuthService) LoginFederated(ctx context.Context, idToken string) (*models.Session, error) {
	f.gotToken = idToken
	return f.session, f.err
}

func (f *fakeAuthService) Logout(ctx context.Context, token string) error {
	f.gotToken = token
	return f.logoutErr
}

var testSession = &models.Session{
	Token:     "tok",
	UserID:    "u1",
	Email:     "bob@example.com",
	ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		service        *fakeAuthService
		expectedCode   int
		expectedSubstr string
	}{
		{
			name:           "invalid JSON",
			body:           `not a json`,
			service:        &fakeAuthService{},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid request",
		},
		{
			name:           "invalid email",
			body:           `{"email":"nope","password":"secret1"}`,
			service:        &fakeAuthService{err: service.ErrInvalidEmail},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "invalid email address",
		},
		{
			name:           "weak password",
			body:           `{"email":"bob@example.com","password":"123"}`,
			service:        &fakeAuthService{err: service.ErrWeakPassword},
			expectedCode:   http.StatusBadRequest,
			expectedSubstr: "at least 6",
		},
		{
			name:           "user already exists",
			body:           `{"email":"bob@example.com","password":"secret1"}`,
			service:        &fakeAuthService{err: service.ErrEmailTaken},
			expectedCode:   http.StatusConflict,
			expectedSubstr: "user already exists",
		},
		{
			name:           "service error",
			body:           `{"email":"bob@example.com","password":"secret1"}`,
			service:        &fakeAuthService{err: errors.New("db error")},
			expectedCode:   http.StatusInternalServerError,
			expectedSubstr: "internal error",
		},
		{
			name:           "success",
			body:           `{"email":"bob@example.com","password":"secret1"}`,
			service:        &fakeAuthService{session: testSession},
			expectedCode:   http.StatusOK,
			expectedSubstr: `"token":"tok"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/register", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.Register(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.expectedSubstr) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedSubstr, rec.Body.String())
			}
		})
	}
}

func TestAuthHandler_Login(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		service      *fakeAuthService
		expectedCode int
	}{
		{"invalid JSON", `{`, &fakeAuthService{}, http.StatusBadRequest},
		{"bad credentials", `{"email":"bob@example.com","password":"x"}`, &fakeAuthService{err: service.ErrInvalidCredentials}, http.StatusUnauthorized},
		{"service error", `{"email":"bob@example.com","password":"x"}`, &fakeAuthService{err: errors.New("boom")}, http.StatusInternalServerError},
		{"success", `{"email":"bob@example.com","password":"secret1"}`, &fakeAuthService{session: testSession}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.Login(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
		})
	}
}

func TestAuthHandler_LoginSuccessBody(t *testing.T) {
	fake := &fakeAuthService{session: testSession}
	h := &AuthHandler{AuthService: fake}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/login", bytes.NewBufferString(`{"email":"bob@example.com","password":"secret1"}`))
	h.Login(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q; want application/json", ct)
	}
	var got models.Session
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Token != "tok" || got.UserID != "u1" || !got.ExpiresAt.Equal(testSession.ExpiresAt) {
		t.Errorf("unexpected session: %+v", got)
	}
	if fake.gotEmail != "bob@example.com" || fake.gotPass != "secret1" {
		t.Errorf("service received %q/%q", fake.gotEmail, fake.gotPass)
	}
}

func TestAuthHandler_LoginFederated(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		service      *fakeAuthService
		expectedCode int
	}{
		{"missing token", `{}`, &fakeAuthService{}, http.StatusBadRequest},
		{"disabled", `{"id_token":"x"}`, &fakeAuthService{err: service.ErrFederationDisabled}, http.StatusNotImplemented},
		{"invalid", `{"id_token":"x"}`, &fakeAuthService{err: service.ErrInvalidToken}, http.StatusUnauthorized},
		{"email taken", `{"id_token":"x"}`, &fakeAuthService{err: service.ErrEmailTaken}, http.StatusConflict},
		{"service error", `{"id_token":"x"}`, &fakeAuthService{err: errors.New("boom")}, http.StatusInternalServerError},
		{"success", `{"id_token":"x"}`, &fakeAuthService{session: testSession}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/login/federated", bytes.NewBufferString(tt.body))
			h := &AuthHandler{AuthService: tt.service}
			h.LoginFederated(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
		})
	}
}

func TestAuthHandler_Logout(t *testing.T) {
	tests := []struct {
		name         string
		service      *fakeAuthService
		expectedCode int
	}{
		{"success", &fakeAuthService{}, http.StatusNoContent},
		{"invalid token", &fakeAuthService{logoutErr: service.ErrInvalidToken}, http.StatusUnauthorized},
		{"service error", &fakeAuthService{logoutErr: errors.New("db")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/logout", nil)
			h := &AuthHandler{AuthService: tt.service}
			h.Logout(rec, req)

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
		})
	}
}
