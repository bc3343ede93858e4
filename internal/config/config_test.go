package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ADDR", "WEB_DIR", "STORE", "DATABASE_URL", "SQLITE_PATH", "RPC_URL",
		"LOG_LEVEL", "WINDOW_SIZE", "CALL_TIMEOUT",
		"OIDC_ISSUER", "OIDC_CLIENT_ID", "OIDC_CLIENT_SECRET", "OIDC_REDIRECT_URL",
		"TRUSTED_PROXIES",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bodymonitor.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Store != StoreMemory || cfg.WindowSize != 10 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CallTimeout != 0 {
		t.Fatalf("expected no call timeout by default, got %s", cfg.CallTimeout)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("forward auth must be off by default, got %v", cfg.TrustedProxies)
	}
}

func TestTrustedProxies(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `trusted_proxies = ["10.0.0.0/8", "127.0.0.1"]`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 {
		t.Fatalf("expected 2 prefixes, got %v", cfg.TrustedProxies)
	}
	if got := cfg.TrustedProxies[1].String(); got != "127.0.0.1/32" {
		t.Fatalf("bare address should match only itself, got %s", got)
	}

	t.Setenv("TRUSTED_PROXIES", "192.168.1.0/24, ::1")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0].String() != "192.168.1.0/24" || cfg.TrustedProxies[1].String() != "::1/128" {
		t.Fatalf("env did not override trusted proxies: %v", cfg.TrustedProxies)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err != nil {
		t.Fatalf("missing file should fall back to defaults, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
addr = "127.0.0.1:9000"
store = "sqlite"
sqlite_path = "/tmp/records.db"
window_size = 5
call_timeout = "3s"

[oidc]
issuer = "https://auth.example.com"
client_id = "bodymonitor"
redirect_url = "https://bm.example.com/api/sso/callback"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.Store != StoreSQLite || cfg.SQLitePath != "/tmp/records.db" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.WindowSize != 5 || cfg.CallTimeout != 3*time.Second {
		t.Fatalf("unexpected window/timeout %d %s", cfg.WindowSize, cfg.CallTimeout)
	}
	if !cfg.OIDC.Enabled() || cfg.OIDC.ClientID != "bodymonitor" {
		t.Fatalf("unexpected oidc %+v", cfg.OIDC)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `store = "sqlite"`+"\n"+`window_size = 5`)
	t.Setenv("STORE", "rpc")
	t.Setenv("RPC_URL", "http://records.internal/rpc")
	t.Setenv("WINDOW_SIZE", "20")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreRPC || cfg.RPCURL != "http://records.internal/rpc" || cfg.WindowSize != 20 {
		t.Fatalf("env did not override file: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{"unknown store", map[string]string{"STORE": "redis"}, ""},
		{"postgres without url", map[string]string{"STORE": "postgres"}, ""},
		{"rpc without url", map[string]string{"STORE": "rpc"}, ""},
		{"bad window", map[string]string{"WINDOW_SIZE": "ten"}, ""},
		{"zero window", map[string]string{"WINDOW_SIZE": "0"}, ""},
		{"bad timeout", map[string]string{"CALL_TIMEOUT": "soon"}, ""},
		{"negative timeout", map[string]string{"CALL_TIMEOUT": "-1s"}, ""},
		{"oidc without client", map[string]string{"OIDC_ISSUER": "https://auth.example.com"}, ""},
		{"malformed toml", nil, "store = "},
		{"bad proxy env", map[string]string{"TRUSTED_PROXIES": "proxy.local"}, ""},
		{"bad proxy file", nil, `trusted_proxies = ["10.0.0.0/33"]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.file != "" {
				path = writeConfig(t, tc.file)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
