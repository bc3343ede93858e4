// Package app holds the application services: the remote store adapter, the
// per-session sync controller and authentication.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"bodymonitor/internal/domain"

	"golang.org/x/crypto/bcrypt"
)

// SessionTTL is the lifetime of a login session.
const SessionTTL = 24 * time.Hour

var (
	// ErrInvalidCredentials indicates that the provided username or password was incorrect.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired indicates that the session has expired.
	ErrSessionExpired = errors.New("session expired")
	// ErrUserNotFound indicates that the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsersExist indicates that the initial user was already created.
	ErrUsersExist = errors.New("users already exist")
)

// AuthService handles authentication and session management.
type AuthService struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
}

// NewAuthService creates a new authentication service.
func NewAuthService(users domain.UserRepository, sessions domain.SessionRepository) *AuthService {
	return &AuthService{users: users, sessions: sessions}
}

// Login checks a password and opens a session, returning its token.
func (s *AuthService) Login(ctx context.Context, username, password, userAgent, ip string) (string, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil || user == nil || user.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.openSession(ctx, user, userAgent, ip)
}

// LoginWithUser opens a session for a user authenticated elsewhere (SSO),
// provisioning the user on first sight.
func (s *AuthService) LoginWithUser(ctx context.Context, username, userAgent, ip string) (string, error) {
	user, err := s.provision(ctx, username)
	if err != nil {
		return "", err
	}
	return s.openSession(ctx, user, userAgent, ip)
}

// Logout invalidates a session.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// ValidateSession resolves a session token to its user. Sessions presented
// from a different user agent are revoked.
func (s *AuthService) ValidateSession(ctx context.Context, token, userAgent string) (*domain.User, error) {
	return s.resolve(ctx, token, func(session *domain.Session) bool {
		return session.UserAgent == userAgent
	})
}

// ValidateToken resolves a bearer token to its user. Unlike cookie sessions,
// bearer tokens are not bound to the user agent that opened them.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	return s.resolve(ctx, token, func(*domain.Session) bool { return true })
}

func (s *AuthService) resolve(ctx context.Context, token string, bound func(*domain.Session) bool) (*domain.User, error) {
	session, err := s.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(session.ExpiresAt) || !bound(session) {
		_ = s.sessions.Delete(ctx, token)
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ValidateForwardAuth resolves the Remote-User header set by a forward-auth
// proxy, provisioning the user on first sight.
func (s *AuthService) ValidateForwardAuth(ctx context.Context, remoteUser string) (*domain.User, error) {
	if remoteUser == "" {
		return nil, errors.New("no remote user header")
	}
	return s.provision(ctx, remoteUser)
}

// CreateInitialUser creates the first user if no users exist.
func (s *AuthService) CreateInitialUser(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	count, err := s.users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrUsersExist
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.users.Create(ctx, username, string(hash))
	return err
}

// PruneSessions removes expired sessions.
func (s *AuthService) PruneSessions(ctx context.Context) error {
	return s.sessions.DeleteExpired(ctx)
}

// Live returns a liveness check for registry keys: a login session is live
// while its token resolves to an unexpired session. Forward-auth keys are
// left to idle expiry, and lookups that fail count as live.
func (s *AuthService) Live(ctx context.Context) func(token string) bool {
	return func(token string) bool {
		if IsForwardAuthKey(token) {
			return true
		}
		session, err := s.sessions.GetByToken(ctx, token)
		if err != nil {
			return true
		}
		return session != nil && time.Now().Before(session.ExpiresAt)
	}
}

func (s *AuthService) provision(ctx context.Context, username string) (*domain.User, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err == nil && user != nil {
		return user, nil
	}
	// SSO users have no password hash.
	user, err = s.users.Create(ctx, username, "")
	if err != nil {
		// Lost a race against a concurrent create.
		user, err = s.users.GetByUsername(ctx, username)
		if err != nil || user == nil {
			return nil, ErrUserNotFound
		}
	}
	return user, nil
}

func (s *AuthService) openSession(ctx context.Context, user *domain.User, userAgent, ip string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := s.sessions.Create(ctx, user.ID, token, userAgent, ip, time.Now().Add(SessionTTL)); err != nil {
		return "", err
	}
	return token, nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
