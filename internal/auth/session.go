// Package auth holds the identity session: sign-up, sign-in, sign-out, the
// cached current session, and change notification. At most one session is
// active at a time; there is no multi-account support.
package auth

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meloofy/meloofy/pkg/logger"
	sb "github.com/meloofy/meloofy/supabase"
)

// emailRe accepts the basic local@domain.tld shape. Anything fancier is the
// backend's call.
var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s.]+(\.[^@\s.]+)+$`)

const minPasswordLen = 6

// refreshMargin is how close to expiry a token may get before an operation
// refreshes it.
const refreshMargin = 30 * time.Second

// Listener is invoked after every session transition (sign-in, sign-out,
// refresh). The session is nil after sign-out.
type Listener func(session *sb.Session)

// Manager wraps the Supabase auth client and caches the current session.
type Manager struct {
	client *sb.Client
	log    *logger.Logger

	mu        sync.RWMutex
	session   *sb.Session
	listeners map[int]Listener
	nextID    int
}

// NewManager creates a session manager. The client is injected; the manager
// never constructs its own backend handle.
func NewManager(client *sb.Client, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Manager{
		client:    client,
		log:       log,
		listeners: make(map[int]Listener),
	}
}

// ValidateEmail checks the local@domain.tld shape without a network call.
func ValidateEmail(email string) error {
	if !emailRe.MatchString(email) {
		return &ValidationError{Field: "email", Reason: "must look like name@domain.tld"}
	}
	return nil
}

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return &ValidationError{Field: "password", Reason: "must be at least 6 characters"}
	}
	return nil
}

// SignUp registers a new user. Validation failures surface before any network
// round trip.
func (m *Manager) SignUp(ctx context.Context, email, password, confirm string) (*sb.Session, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	if password != confirm {
		return nil, &ValidationError{Field: "password confirmation", Reason: "does not match password"}
	}

	session, err := m.client.Auth().SignUp(ctx, sb.SignUpRequest{Email: email, Password: password})
	if err != nil {
		m.log.WithError(err).Warnf("sign-up rejected for %s", email)
		return nil, wrapAuthErr(err, ErrBackendRejected)
	}

	if session.AccessToken != "" {
		m.setSession(session)
	}
	return session, nil
}

// SignIn authenticates with email and password.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*sb.Session, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	session, err := m.client.Auth().SignInWithPassword(ctx, email, password)
	if err != nil {
		m.log.WithError(err).Warnf("sign-in failed for %s", email)
		return nil, wrapAuthErr(err, ErrAuthFailed)
	}

	m.setSession(session)
	if session.User != nil {
		m.log.Infof("signed in as %s", session.User.Email)
	}
	return session, nil
}

// SignOut revokes the current session. The cached session is cleared even if
// the backend call fails; the token will expire on its own.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session == nil {
		return nil
	}

	err := m.client.Auth().SignOut(ctx, session.AccessToken)
	m.setSession(nil)
	if err != nil {
		m.log.WithError(err).Warn("backend sign-out failed; local session cleared")
		return wrapAuthErr(err, ErrBackendRejected)
	}
	return nil
}

// CurrentSession returns the cached session, or nil. Synchronous; no network.
func (m *Manager) CurrentSession() *sb.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// CurrentUser returns the signed-in user, or nil.
func (m *Manager) CurrentUser() *sb.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil
	}
	return m.session.User
}

// AccessToken returns the current access token, or "" when signed out. Useful
// as a storage.TokenProvider.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return ""
	}
	return m.session.AccessToken
}

// Restore installs a previously saved session without a network round trip.
// EnsureFresh on first use catches a stale token.
func (m *Manager) Restore(s *sb.Session) {
	if s == nil || s.AccessToken == "" {
		return
	}
	m.setSession(s)
}

// OnSessionChange registers a listener and returns its unsubscribe function.
// Multiple listeners are supported; each fires on every transition.
func (m *Manager) OnSessionChange(l Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// ResetPassword requests a password-reset email.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}
	if err := m.client.Auth().ResetPasswordForEmail(ctx, email); err != nil {
		return wrapAuthErr(err, ErrBackendRejected)
	}
	return nil
}

// EnsureFresh refreshes the session once if the access token is within
// refreshMargin of expiry. Call before operations that need a valid token.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()

	if session == nil {
		return ErrNoSession
	}

	expiry := sessionExpiry(session)
	if expiry.IsZero() || time.Until(expiry) > refreshMargin {
		return nil
	}

	refreshed, err := m.client.Auth().RefreshToken(ctx, session.RefreshToken)
	if err != nil {
		m.log.WithError(err).Warn("session refresh failed")
		m.setSession(nil)
		return wrapAuthErr(err, ErrAuthFailed)
	}
	if refreshed.User == nil {
		refreshed.User = session.User
	}
	m.setSession(refreshed)
	return nil
}

// sessionExpiry reads the expiry from the session, falling back to the JWT exp
// claim. The token is parsed unverified: the backend is the verifier, the
// client only needs the timestamp.
func sessionExpiry(s *sb.Session) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func (m *Manager) setSession(s *sb.Session) {
	m.mu.Lock()
	m.session = s
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(s)
	}
}

func wrapAuthErr(err error, sentinel error) error {
	var sbErr *sb.Error
	if errors.As(err, &sbErr) {
		return &authError{sentinel: sentinel, cause: sbErr}
	}
	return &authError{sentinel: sentinel, cause: err}
}

// authError ties a sentinel to the backend cause so errors.Is works on the
// sentinel and errors.As reaches the supabase error.
type authError struct {
	sentinel error
	cause    error
}

func (e *authError) Error() string { return e.sentinel.Error() + ": " + e.cause.Error() }
func (e *authError) Is(target error) bool {
	return target == e.sentinel
}
func (e *authError) Unwrap() error { return e.cause }
