package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validTestConfig() Config {
	cfg := defaultConfig()
	cfg.Provider.ClientID = "client"
	cfg.Provider.AuthorizeURL = "https://idp.example.com/authorize"
	cfg.Provider.TokenURL = "https://idp.example.com/token"
	cfg.Provider.UserinfoURL = "https://idp.example.com/userinfo"
	cfg.Provider.EndSessionURL = "https://idp.example.com/logout"
	cfg.Provider.RedirectURI = "https://app.example.com/auth/callback"
	cfg.Session.SigningSecret = strings.Repeat("s", 32)
	return cfg
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
server:
  public_url: http://127.0.0.1:8080
provider:
  client_id: client
  authorize_url: https://idp.example.com/authorize
  token_url: https://idp.example.com/token
  userinfo_url: https://idp.example.com/userinfo
  end_session_url: https://idp.example.com/logout
  redirect_uri: http://127.0.0.1:8080/auth/callback
session:
  signing_secret: ssssssssssssssssssssssssssssssss
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.Server.DevMode {
		t.Fatalf("DevMode default should be true")
	}
	if cfg.Server.DefaultLanding != "/dashboard" {
		t.Fatalf("DefaultLanding = %q", cfg.Server.DefaultLanding)
	}
	if got := cfg.Provider.Timeout(); got != DefaultRequestTimeout {
		t.Fatalf("Timeout() = %v, want %v", got, DefaultRequestTimeout)
	}
	if got := cfg.Session.SignatureWindow(); got != DefaultSignatureTTL {
		t.Fatalf("SignatureWindow() = %v, want %v", got, DefaultSignatureTTL)
	}
	if len(cfg.Provider.Scopes) != 3 || cfg.Provider.Scopes[0] != "openid" {
		t.Fatalf("Scopes = %v", cfg.Provider.Scopes)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, `
server:
  public_url: http://127.0.0.1:8080
  no_such_field: true
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTHD_CLIENT_ID", "env-client")
	t.Setenv("AUTHD_SCOPES", "openid, email")
	t.Setenv("AUTHD_DEV_MODE", "false")

	cfg := validTestConfig()
	applyEnvOverrides(&cfg)

	if cfg.Provider.ClientID != "env-client" {
		t.Fatalf("ClientID = %q", cfg.Provider.ClientID)
	}
	if len(cfg.Provider.Scopes) != 2 || cfg.Provider.Scopes[1] != "email" {
		t.Fatalf("Scopes = %v", cfg.Provider.Scopes)
	}
	if cfg.Server.DevMode {
		t.Fatalf("DevMode override not applied")
	}
}

func TestValidateCatchesProblems(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing public_url", func(c *Config) { c.Server.PublicURL = "" }},
		{"bad public_url", func(c *Config) { c.Server.PublicURL = "ftp://x" }},
		{"missing client_id", func(c *Config) { c.Provider.ClientID = "" }},
		{"missing token_url", func(c *Config) { c.Provider.TokenURL = "" }},
		{"bad redirect_uri", func(c *Config) { c.Provider.RedirectURI = "not-a-url" }},
		{"no openid scope", func(c *Config) { c.Provider.Scopes = []string{"profile"} }},
		{"missing secret", func(c *Config) { c.Session.SigningSecret = "" }},
		{"short secret", func(c *Config) { c.Session.SigningSecret = "short" }},
		{"bad timeout", func(c *Config) { c.Provider.RequestTimeout = "soon" }},
		{"bad signature ttl", func(c *Config) { c.Session.SignatureTTL = "whenever" }},
		{"prod without domains", func(c *Config) { c.Server.DevMode = false }},
		{"external landing", func(c *Config) { c.Server.DefaultLanding = "https://evil.example.com" }},
		{"bad proxy prefix", func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "api", Target: "http://backend:8000"}}
		}},
		{"bad proxy target", func(c *Config) {
			c.Proxy.Routes = []ProxyRoute{{Prefix: "/api", Target: "backend:8000"}}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("Validate accepted invalid config")
			}
		})
	}
}

func TestValidateAcceptsGoodConfig(t *testing.T) {
	cfg := validTestConfig()
	cfg.Provider.RequestTimeout = "15s"
	cfg.Session.SignatureTTL = "30m"
	cfg.Proxy.Routes = []ProxyRoute{{Prefix: "/api/listings", Target: "http://listings:8000", StripPrefix: true}}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate rejected valid config: %v", err)
	}
	if got := cfg.Provider.Timeout(); got != 15*time.Second {
		t.Fatalf("Timeout() = %v", got)
	}
	if got := cfg.Session.SignatureWindow(); got != 30*time.Minute {
		t.Fatalf("SignatureWindow() = %v", got)
	}
}
