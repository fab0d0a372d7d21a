package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/shoplist/internal/models"
	"go.uber.org/zap"
)

const (
	apiRegister       = "/api/register"
	apiLogin          = "/api/login"
	apiLoginFederated = "/api/login/federated"
	apiLogout         = "/api/logout"
)

// ErrUnauthenticated is returned when there is no session or the server
// rejected the credentials or the session token.
var ErrUnauthenticated = errors.New("not authenticated")

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Auth is the client side of the identity provider. It holds the current
// session, optionally persists it to a file, and notifies listeners whenever
// the signed-in user changes.
type Auth struct {
	baseURL     string
	client      *http.Client
	sessionPath string
	log         *zap.Logger
	now         func() time.Time

	mu        sync.Mutex
	session   *models.Session
	listeners map[int]func(*models.Session)
	nextID    int
}

// AuthOption configures an Auth.
type AuthOption func(*Auth)

// WithSessionFile persists the session at path (mode 0600) so it survives
// restarts.
func WithSessionFile(path string) AuthOption {
	return func(a *Auth) { a.sessionPath = path }
}

// WithAuthLogger sets the logger.
func WithAuthLogger(log *zap.Logger) AuthOption {
	return func(a *Auth) { a.log = log }
}

// NewAuth returns an Auth for the server at baseURL.
func NewAuth(baseURL string, client *http.Client, opts ...AuthOption) *Auth {
	a := &Auth{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		log:       zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]func(*models.Session)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Restore loads a previously saved session. A missing file or an expired
// session leaves the client signed out.
func (a *Auth) Restore() error {
	if a.sessionPath == "" {
		return nil
	}
	f, err := os.Open(a.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var sess models.Session
	if err := json.NewDecoder(f).Decode(&sess); err != nil {
		return fmt.Errorf("decode session file: %w", err)
	}
	if sess.Token == "" || !sess.ExpiresAt.After(a.now()) {
		a.log.Debug("stored session expired")
		return a.removeSessionFile()
	}
	a.setSession(&sess)
	return nil
}

// Register creates an account and signs in as it.
func (a *Auth) Register(ctx context.Context, email, password string) (*models.Session, error) {
	return a.signIn(ctx, apiRegister, map[string]string{"email": email, "password": password})
}

// Login signs in with email and password.
func (a *Auth) Login(ctx context.Context, email, password string) (*models.Session, error) {
	return a.signIn(ctx, apiLogin, map[string]string{"email": email, "password": password})
}

// LoginFederated signs in with an ID token from the federated provider.
func (a *Auth) LoginFederated(ctx context.Context, idToken string) (*models.Session, error) {
	return a.signIn(ctx, apiLoginFederated, map[string]string{"id_token": idToken})
}

// SignOut revokes the session on the server and forgets it locally. The
// local session is dropped even when the server call fails.
func (a *Auth) SignOut(ctx context.Context) error {
	token, ok := a.Token()
	if !ok {
		return nil
	}
	resp, err := a.post(ctx, apiLogout, nil, token)
	a.setSession(nil)
	if rmErr := a.removeSessionFile(); rmErr != nil {
		a.log.Warn("remove session file", zap.Error(rmErr))
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil && !errors.Is(err, ErrUnauthenticated) {
		return err
	}
	return nil
}

// Invalidate forgets the session without contacting the server. It is used
// when the server stops accepting the token.
func (a *Auth) Invalidate() {
	if _, ok := a.Token(); !ok {
		return
	}
	a.log.Info("session rejected by server")
	a.setSession(nil)
	if err := a.removeSessionFile(); err != nil {
		a.log.Warn("remove session file", zap.Error(err))
	}
}

// CurrentUserIdentifier returns the signed-in user's identifier.
func (a *Auth) CurrentUserIdentifier() (string, bool) {
	sess := a.Session()
	if sess == nil {
		return "", false
	}
	return sess.UserID, true
}

// Session returns a copy of the current unexpired session, or nil.
func (a *Auth) Session() *models.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || !a.session.ExpiresAt.After(a.now()) {
		return nil
	}
	s := *a.session
	return &s
}

// Token returns the bearer token of the current session.
func (a *Auth) Token() (string, bool) {
	sess := a.Session()
	if sess == nil {
		return "", false
	}
	return sess.Token, true
}

// OnAuthChange registers fn to be called with the new session after every
// sign-in, and with nil after sign-out. The returned func unregisters it.
func (a *Auth) OnAuthChange(fn func(*models.Session)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Auth) signIn(ctx context.Context, path string, payload any) (*models.Session, error) {
	resp, err := a.post(ctx, path, payload, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var sess models.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := a.saveSessionFile(&sess); err != nil {
		a.log.Warn("save session file", zap.Error(err))
	}
	a.setSession(&sess)
	a.log.Info("signed in", zap.String("user", sess.UserID))
	return &sess, nil
}

func (a *Auth) post(ctx context.Context, path string, payload any, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	return resp, nil
}

// setSession swaps the session and notifies listeners outside the lock.
func (a *Auth) setSession(sess *models.Session) {
	a.mu.Lock()
	a.session = sess
	listeners := make([]func(*models.Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		if sess == nil {
			fn(nil)
			continue
		}
		s := *sess
		fn(&s)
	}
}

func (a *Auth) saveSessionFile(sess *models.Session) error {
	if a.sessionPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.sessionPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(a.sessionPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(sess)
}

func (a *Auth) removeSessionFile() error {
	if a.sessionPath == "" {
		return nil
	}
	if err := os.Remove(a.sessionPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// checkResponse turns a non-2xx response into an error. 401 responses wrap
// ErrUnauthenticated.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, apiErr)
	}
	return apiErr
}
