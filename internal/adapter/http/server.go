package adapthttp

import (
	"log/slog"
	"net/http"
	"net/netip"

	"bodymonitor/internal/adapter/rpc"
	"bodymonitor/internal/app"
	"bodymonitor/internal/domain"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"
)

// OIDCConfig holds the SSO provider settings. SSO is off unless Enabled.
type OIDCConfig struct {
	Enabled      bool
	Provider     *oidc.Provider
	OAuth2Config oauth2.Config
}

// Server is the driving HTTP adapter: it authenticates the user, hands
// intents to the session's controller and renders its view.
type Server struct {
	authSvc    *app.AuthService
	registry   *app.Registry
	records    domain.RecordStore
	oidcConfig OIDCConfig
	gatherer   prometheus.Gatherer
	webDir     string
	log        *slog.Logger
	// trustedProxies are the peers allowed to assert Remote-User.
	trustedProxies []netip.Prefix

	disableAuth bool
	testUser    *domain.User
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithOIDC enables SSO login.
func WithOIDC(cfg OIDCConfig) Option {
	return func(s *Server) { s.oidcConfig = cfg }
}

// WithRecordEndpoint serves store under /rpc/ for remote clients.
func WithRecordEndpoint(store domain.RecordStore) Option {
	return func(s *Server) { s.records = store }
}

// WithMetrics exposes g at /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithForwardAuth honors the Remote-User header on requests arriving from
// one of proxies. Without it the header is ignored.
func WithForwardAuth(proxies ...netip.Prefix) Option {
	return func(s *Server) { s.trustedProxies = proxies }
}

// New creates a Server wired to the given application services.
func New(authSvc *app.AuthService, registry *app.Registry, webDir string, opts ...Option) *Server {
	s := &Server{authSvc: authSvc, registry: registry, webDir: webDir, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithoutAuth skips authentication and treats every request as coming from
// user over a single session. For tests.
func (s *Server) WithoutAuth(user *domain.User) *Server {
	s.disableAuth = true
	s.testUser = user
	return s
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	api.HandleFunc("/login", s.handleLogin)
	api.HandleFunc("/logout", s.handleLogout)
	api.HandleFunc("/setup", s.handleSetupUser)
	api.HandleFunc("/config", s.handleConfig)
	api.HandleFunc("/sso/login", s.handleSSOLogin)
	api.HandleFunc("/sso/callback", s.handleSSOCallback)

	api.Handle("/state", s.authMiddleware(http.HandlerFunc(s.handleState)))
	api.Handle("/register", s.authMiddleware(http.HandlerFunc(s.handleRegister)))
	api.Handle("/weight", s.authMiddleware(http.HandlerFunc(s.handleWeight)))
	api.Handle("/retry", s.authMiddleware(http.HandlerFunc(s.handleRetry)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	if s.records != nil {
		endpoint := rpc.NewHandler(s.records, callerAccount)
		root.Handle("/rpc/", s.tokenMiddleware(http.StripPrefix("/rpc", endpoint)))
	}
	if s.gatherer != nil {
		root.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle("/", spaFromDisk(s.webDir))

	return s.loggingMiddleware(withNoCache(root))
}

// callerAccount identifies the authenticated user of an RPC request.
func callerAccount(r *http.Request) string {
	if u, ok := r.Context().Value(userContextKey).(*domain.User); ok && u != nil {
		return u.Username
	}
	return ""
}
