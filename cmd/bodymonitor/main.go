// Command bodymonitor serves the weight tracker: login, the per-session
// record sync and, optionally, the record store endpoint for other nodes.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adapthttp "bodymonitor/internal/adapter/http"
	"bodymonitor/internal/adapter/memory"
	"bodymonitor/internal/adapter/postgres"
	"bodymonitor/internal/adapter/rpc"
	"bodymonitor/internal/adapter/sqlite"
	"bodymonitor/internal/app"
	"bodymonitor/internal/config"
	"bodymonitor/internal/domain"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

const pruneInterval = time.Hour

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "bodymonitor",
		Short:         "Weight and body measurement tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (TOML)")

	cmd.AddCommand(serveCmd(&configPath), createUserCmd(&configPath))
	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.LogLevel))
		},
	}
}

func createUserCmd(configPath *string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create the first login user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required to persist users")
			}
			db, err := postgres.Open(cfg.DatabaseURL, cfg.WindowSize)
			if err != nil {
				return fmt.Errorf("db open: %w", err)
			}
			defer func() { _ = db.Close() }()

			authSvc := app.NewAuthService(db, postgres.NewSessionRepo(db))
			if err := authSvc.CreateInitialUser(cmd.Context(), username, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (the account id)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// backend bundles the stores a server runs on.
type backend struct {
	users    domain.UserRepository
	sessions domain.SessionRepository
	// records is the local record store, nil when records live on another node.
	records  domain.RecordStore
	storeFor app.StoreFunc
	closers  []io.Closer
}

func (b *backend) Close() {
	for _, c := range b.closers {
		_ = c.Close()
	}
}

func openBackend(cfg config.Config) (*backend, error) {
	b := &backend{}

	// Users and sessions live in postgres when it is configured, in memory
	// otherwise.
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(cfg.DatabaseURL, cfg.WindowSize)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		b.closers = append(b.closers, db)
		b.users, b.sessions = db, postgres.NewSessionRepo(db)
		if cfg.Store == config.StorePostgres {
			b.records = db
		}
	} else {
		mem := memory.New(cfg.WindowSize)
		b.users, b.sessions = mem, mem.NewSessionRepo()
		if cfg.Store == config.StoreMemory {
			b.records = mem
		}
	}

	switch cfg.Store {
	case config.StoreSQLite:
		st, err := sqlite.Open(cfg.SQLitePath, cfg.WindowSize)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		b.closers = append(b.closers, st)
		b.records = st
	case config.StoreRPC:
		// The remote node authorizes writes by the caller's session token.
		b.storeFor = func(token string) domain.RecordStore {
			return rpc.NewClient(cfg.RPCURL, token)
		}
		return b, nil
	}

	records := b.records
	b.storeFor = func(string) domain.RecordStore { return records }
	return b, nil
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	authSvc := app.NewAuthService(b.users, b.sessions)
	registry := app.NewRegistry(b.storeFor, cfg.WindowSize, log,
		app.WithMetrics(app.NewMetrics(reg)),
		app.WithCallTimeout(cfg.CallTimeout),
	)

	opts := []adapthttp.Option{
		adapthttp.WithLogger(log),
		adapthttp.WithMetrics(reg),
	}
	if b.records != nil {
		opts = append(opts, adapthttp.WithRecordEndpoint(b.records))
	}
	if len(cfg.TrustedProxies) > 0 {
		opts = append(opts, adapthttp.WithForwardAuth(cfg.TrustedProxies...))
	}
	if cfg.OIDC.Enabled() {
		oc, err := newOIDC(ctx, cfg.OIDC)
		if err != nil {
			return err
		}
		opts = append(opts, adapthttp.WithOIDC(oc))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           adapthttp.New(authSvc, registry, cfg.WebDir, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go pruneSessions(ctx, authSvc, registry, log)

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr, "store", cfg.Store, "window", cfg.WindowSize)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newOIDC(ctx context.Context, cfg config.OIDC) (adapthttp.OIDCConfig, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return adapthttp.OIDCConfig{}, fmt.Errorf("oidc provider: %w", err)
	}
	return adapthttp.OIDCConfig{
		Enabled:  true,
		Provider: provider,
		OAuth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// pruneSessions removes expired login sessions and the controllers mounted
// for them. Forward-auth controllers expire after a session lifetime of
// disuse.
func pruneSessions(ctx context.Context, authSvc *app.AuthService, registry *app.Registry, log *slog.Logger) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sweep(ctx, authSvc, registry, log)
		}
	}
}

func sweep(ctx context.Context, authSvc *app.AuthService, registry *app.Registry, log *slog.Logger) {
	if err := authSvc.PruneSessions(ctx); err != nil {
		log.Warn("prune sessions", "err", err)
	}
	registry.Prune(app.SessionTTL, authSvc.Live(ctx))
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
