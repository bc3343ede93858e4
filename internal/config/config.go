// Package config loads server settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"bodymonitor/internal/domain"

	toml "github.com/pelletier/go-toml/v2"
)

// Record store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreRPC      = "rpc"
)

const (
	defaultAddr       = ":8080"
	defaultWebDir     = "web"
	defaultSQLitePath = "bodymonitor.db"
)

// OIDC holds single sign-on settings. SSO is enabled when Issuer is set.
type OIDC struct {
	Issuer       string `toml:"issuer"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURL  string `toml:"redirect_url"`
}

// Enabled reports whether SSO is configured.
func (o OIDC) Enabled() bool { return o.Issuer != "" }

// Config is the server configuration.
type Config struct {
	Addr        string
	WebDir      string
	Store       string
	DatabaseURL string
	SQLitePath  string
	RPCURL      string
	// WindowSize is the number of weight samples kept per record.
	WindowSize int
	// CallTimeout bounds each record store call. Zero means no bound.
	CallTimeout time.Duration
	LogLevel    string
	OIDC        OIDC
	// TrustedProxies lists the peers whose Remote-User header is honored.
	// Empty disables forward auth.
	TrustedProxies []netip.Prefix
}

type fileConfig struct {
	Addr        string `toml:"addr"`
	WebDir      string `toml:"web_dir"`
	Store       string `toml:"store"`
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	RPCURL      string `toml:"rpc_url"`
	WindowSize  int    `toml:"window_size"`
	CallTimeout string `toml:"call_timeout"`
	LogLevel    string `toml:"log_level"`
	OIDC        OIDC   `toml:"oidc"`

	TrustedProxies []string `toml:"trusted_proxies"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:       defaultAddr,
		WebDir:     defaultWebDir,
		Store:      StoreMemory,
		SQLitePath: defaultSQLitePath,
		WindowSize: domain.DefaultWindowSize,
		LogLevel:   "info",
	}
}

// Load reads the TOML file at path, if any, then applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close() //nolint:errcheck

	b, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.Addr, raw.Addr)
	setString(&c.WebDir, raw.WebDir)
	setString(&c.Store, raw.Store)
	setString(&c.DatabaseURL, raw.DatabaseURL)
	setString(&c.SQLitePath, raw.SQLitePath)
	setString(&c.RPCURL, raw.RPCURL)
	setString(&c.LogLevel, raw.LogLevel)
	if raw.WindowSize != 0 {
		c.WindowSize = raw.WindowSize
	}
	if raw.CallTimeout != "" {
		d, err := time.ParseDuration(raw.CallTimeout)
		if err != nil {
			return fmt.Errorf("parse config: call_timeout: %w", err)
		}
		c.CallTimeout = d
	}
	if len(raw.TrustedProxies) > 0 {
		p, err := ParseProxies(raw.TrustedProxies)
		if err != nil {
			return fmt.Errorf("parse config: trusted_proxies: %w", err)
		}
		c.TrustedProxies = p
	}
	setString(&c.OIDC.Issuer, raw.OIDC.Issuer)
	setString(&c.OIDC.ClientID, raw.OIDC.ClientID)
	setString(&c.OIDC.ClientSecret, raw.OIDC.ClientSecret)
	setString(&c.OIDC.RedirectURL, raw.OIDC.RedirectURL)
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, os.Getenv("ADDR"))
	setString(&c.WebDir, os.Getenv("WEB_DIR"))
	setString(&c.Store, os.Getenv("STORE"))
	setString(&c.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&c.SQLitePath, os.Getenv("SQLITE_PATH"))
	setString(&c.RPCURL, os.Getenv("RPC_URL"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&c.OIDC.Issuer, os.Getenv("OIDC_ISSUER"))
	setString(&c.OIDC.ClientID, os.Getenv("OIDC_CLIENT_ID"))
	setString(&c.OIDC.ClientSecret, os.Getenv("OIDC_CLIENT_SECRET"))
	setString(&c.OIDC.RedirectURL, os.Getenv("OIDC_REDIRECT_URL"))

	if v := strings.TrimSpace(os.Getenv("WINDOW_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WINDOW_SIZE: %w", err)
		}
		c.WindowSize = n
	}
	if v := strings.TrimSpace(os.Getenv("TRUSTED_PROXIES")); v != "" {
		p, err := ParseProxies(strings.Split(v, ","))
		if err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		c.TrustedProxies = p
	}
	if v := strings.TrimSpace(os.Getenv("CALL_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CALL_TIMEOUT: %w", err)
		}
		c.CallTimeout = d
	}
	return nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StoreRPC:
		if c.RPCURL == "" {
			return errors.New("RPC_URL is required for the rpc store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("call timeout must not be negative, got %s", c.CallTimeout)
	}
	if c.OIDC.Enabled() && (c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		return errors.New("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER is set")
	}
	return nil
}

// ParseProxies parses addresses and CIDR prefixes. A bare address matches
// only itself.
func ParseProxies(entries []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, err
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
