package adapthttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"bodymonitor/internal/app"
	"bodymonitor/internal/domain"

	"github.com/google/uuid"
)

type contextKey string

const (
	userContextKey    contextKey = "user"
	sessionContextKey contextKey = "session"
)

const sessionCookie = "session"

// authMiddleware validates forward auth headers from trusted proxies, session
// cookies and bearer tokens, in that order.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return s.authenticate(next, true)
}

// tokenMiddleware is authMiddleware without forward auth: callers of the
// record endpoint must present their own session.
func (s *Server) tokenMiddleware(next http.Handler) http.Handler {
	return s.authenticate(next, false)
}

func (s *Server) authenticate(next http.Handler, forwardAuth bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.disableAuth {
			next.ServeHTTP(w, withUser(r, s.testUser, "test"))
			return
		}

		// Authelia forward auth
		if remoteUser := r.Header.Get("Remote-User"); remoteUser != "" {
			if forwardAuth && s.fromTrustedProxy(r) {
				user, err := s.authSvc.ValidateForwardAuth(r.Context(), remoteUser)
				if err == nil && user != nil {
					next.ServeHTTP(w, withUser(r, user, app.ForwardAuthKey(user.Username)))
					return
				}
			} else {
				s.log.Warn("ignoring Remote-User header", "peer", r.RemoteAddr, "path", r.URL.Path)
			}
		}

		var (
			token string
			user  *domain.User
			err   error
		)
		if cookie, cerr := r.Cookie(sessionCookie); cerr == nil {
			token = cookie.Value
			user, err = s.authSvc.ValidateSession(r.Context(), token, r.UserAgent())
		} else if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && bearer != "" {
			token = bearer
			user, err = s.authSvc.ValidateToken(r.Context(), token)
		} else {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		if errors.Is(err, app.ErrSessionNotFound) || errors.Is(err, app.ErrSessionExpired) || errors.Is(err, app.ErrUserNotFound) {
			s.registry.Drop(token)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err != nil {
			s.log.Error("validate session", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, withUser(r, user, token))
	})
}

// fromTrustedProxy reports whether the direct peer of r is a trusted proxy.
func (s *Server) fromTrustedProxy(r *http.Request) bool {
	if len(s.trustedProxies) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func withUser(r *http.Request, user *domain.User, token string) *http.Request {
	ctx := context.WithValue(r.Context(), userContextKey, user)
	ctx = context.WithValue(ctx, sessionContextKey, token)
	return r.WithContext(ctx)
}

func requestUser(r *http.Request) (*domain.User, string) {
	user, _ := r.Context().Value(userContextKey).(*domain.User)
	token, _ := r.Context().Value(sessionContextKey).(string)
	return user, token
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs one line per request and tags the response with a
// request id.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.log.Info("http request",
			"id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
