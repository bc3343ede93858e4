package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bodymonitor/internal/domain"
)

// UserIdentity adapts an authenticated user to domain.Identity.
type UserIdentity struct {
	User *domain.User
}

// IsAuthenticated reports whether a user is present.
func (u UserIdentity) IsAuthenticated() bool { return u.User != nil }

// AccountID returns the username, or "" when signed out.
func (u UserIdentity) AccountID() string {
	if u.User == nil {
		return ""
	}
	return u.User.Username
}

const forwardAuthPrefix = "remote:"

// ForwardAuthKey is the registry key of a forward-auth user, who has no
// session token of their own.
func ForwardAuthKey(username string) string { return forwardAuthPrefix + username }

// IsForwardAuthKey reports whether key was made by ForwardAuthKey.
func IsForwardAuthKey(key string) bool { return strings.HasPrefix(key, forwardAuthPrefix) }

// StoreFunc returns the record store to use for a login session.
type StoreFunc func(sessionToken string) domain.RecordStore

// Sync pairs a session's controller with its pending notices.
type Sync struct {
	Controller *Controller
	Notices    *NoticeQueue
}

// Registry keeps one Controller per login session. A controller is created
// and mounted the first time its session is seen and discarded on logout.
type Registry struct {
	storeFor StoreFunc
	opts     []RemoteOption
	window   int
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	sync     *Sync
	lastSeen time.Time
}

// NewRegistry creates a Registry. opts apply to every session's RemoteStore.
func NewRegistry(storeFor StoreFunc, window int, log *slog.Logger, opts ...RemoteOption) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		storeFor: storeFor,
		opts:     append([]RemoteOption{WithLogger(log)}, opts...),
		window:   window,
		log:      log,
		sessions: make(map[string]*entry),
	}
}

// Get returns the Sync of a session, mounting a new controller for user if
// the session has none yet.
func (r *Registry) Get(ctx context.Context, token string, user *domain.User) *Sync {
	r.mu.Lock()
	e, ok := r.sessions[token]
	if !ok {
		notices := &NoticeQueue{}
		remote := NewRemoteStore(r.storeFor(token), r.opts...)
		e = &entry{sync: &Sync{
			Controller: NewController(UserIdentity{User: user}, remote, notices, r.window),
			Notices:    notices,
		}}
		r.sessions[token] = e
	}
	e.lastSeen = time.Now()
	s := e.sync
	r.mu.Unlock()

	if !ok {
		if err := s.Controller.Start(ctx); err != nil {
			r.log.Info("initial record check failed", "account", user.Username, "err", err)
		}
	}
	return s
}

// Drop forgets the controller of a session.
func (r *Registry) Drop(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, token)
}

// Prune drops the sessions for which live reports false and, when idle is
// positive, those not used for longer than idle. live is called without the
// registry lock held. It returns the number of sessions dropped.
func (r *Registry) Prune(idle time.Duration, live func(token string) bool) int {
	r.mu.Lock()
	snapshot := make(map[string]*entry, len(r.sessions))
	for token, e := range r.sessions {
		snapshot[token] = e
	}
	r.mu.Unlock()

	now := time.Now()
	var stale []string
	for token, e := range snapshot {
		r.mu.Lock()
		seen := e.lastSeen
		r.mu.Unlock()
		if (idle > 0 && now.Sub(seen) > idle) || (live != nil && !live(token)) {
			stale = append(stale, token)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for _, token := range stale {
		// A session remounted meanwhile is a new entry and stays.
		if r.sessions[token] == snapshot[token] {
			delete(r.sessions, token)
			dropped++
		}
	}
	if dropped > 0 {
		r.log.Debug("pruned sessions", "dropped", dropped, "live", len(r.sessions))
	}
	return dropped
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
