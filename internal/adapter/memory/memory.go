// Package memory implements in-memory repositories for development and testing.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"bodymonitor/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	window   int
	records  map[string]domain.Record
	users    []*domain.User
	sessions map[string]*domain.Session

	userIDCounter int64
}

// New creates a new in-memory database whose records keep window samples.
func New(window int) *DB {
	if window <= 0 {
		window = domain.DefaultWindowSize
	}
	return &DB{
		window:   window,
		records:  make(map[string]domain.Record),
		sessions: make(map[string]*domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.RecordStore = (*DB)(nil)
var _ domain.UserRepository = (*DB)(nil)
var _ domain.SessionRepository = (*SessionRepo)(nil)

// --- RecordStore ---

// RecordExists reports whether account has a record.
func (db *DB) RecordExists(ctx context.Context, account string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.records[account]
	return ok, nil
}

// FetchRecord returns a copy of the record of account.
func (db *DB) FetchRecord(ctx context.Context, account string) (domain.Record, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.records[account]
	if !ok {
		return domain.Record{}, domain.ErrRecordNotFound
	}
	return r.Clone(), nil
}

// RegisterRecord creates the record of account with a single weight.
func (db *DB) RegisterRecord(ctx context.Context, account string, age, height int, weight float64) error {
	if err := domain.CheckProfile(age, height, weight); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.records[account]; ok {
		return domain.ErrAlreadyRegistered
	}
	db.records[account] = domain.Record{Age: age, Height: height, Weights: []float64{weight}}
	return nil
}

// AppendWeight pushes weight onto the window of account.
func (db *DB) AppendWeight(ctx context.Context, account string, weight float64) error {
	if err := domain.CheckWeight(weight); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.records[account]
	if !ok {
		return domain.ErrRecordNotFound
	}
	r.Weights = domain.PushWeight(r.Weights, weight, db.window)
	db.records[account] = r
	return nil
}

// --- UserRepository ---

// GetByUsername retrieves a user by username. Returns nil if not found.
func (db *DB) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := slices.IndexFunc(db.users, func(u *domain.User) bool { return u.Username == username })
	if i < 0 {
		return nil, nil
	}
	return db.users[i], nil
}

// GetByID retrieves a user by ID. Returns nil if not found.
func (db *DB) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := slices.IndexFunc(db.users, func(u *domain.User) bool { return u.ID == id })
	if i < 0 {
		return nil, nil
	}
	return db.users[i], nil
}

// Create creates a new user.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*domain.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, u := range db.users {
		if u.Username == username {
			return nil, errors.New("user already exists")
		}
	}

	db.userIDCounter++
	u := &domain.User{
		ID:           db.userIDCounter,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	db.users = append(db.users, u)
	return u, nil
}

// Count returns the total number of users.
func (db *DB) Count(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users), nil
}

// --- SessionRepository ---

// SessionRepo implements session persistence.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new session repository.
func (db *DB) NewSessionRepo() *SessionRepo {
	return &SessionRepo{db: db}
}

// Create creates a new session.
func (r *SessionRepo) Create(ctx context.Context, userID int64, token, userAgent, ip string, expiresAt time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.sessions[token] = &domain.Session{
		Token:     token,
		UserID:    userID,
		UserAgent: userAgent,
		IP:        ip,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

// GetByToken retrieves a session by token. Returns nil if not found.
func (r *SessionRepo) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sessions[token]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

// Delete deletes a session.
func (r *SessionRepo) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

// DeleteExpired deletes all expired sessions.
func (r *SessionRepo) DeleteExpired(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	now := time.Now()
	for k, v := range r.db.sessions {
		if now.After(v.ExpiresAt) {
			delete(r.db.sessions, k)
		}
	}
	return nil
}
