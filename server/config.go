package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded flow defaults.
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultLandingPath    = "/dashboard"
	DefaultErrorPath      = "/auth/login"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Proxy    ProxyConfig    `yaml:"proxy"`
}

// ServerConfig controls listener, TLS, and redirect destinations.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	SecretsPath     string    `yaml:"secrets_path"`
	DefaultLanding  string    `yaml:"default_landing"`
	ErrorPath       string    `yaml:"error_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains []string `yaml:"domains"`
	Email   string   `yaml:"email"`
}

// ProviderConfig enumerates the identity provider endpoints. There is no
// discovery: every URL used by the flow is stated here.
type ProviderConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Issuer       string `yaml:"issuer"`
	AuthorizeURL string `yaml:"authorize_url"`
	TokenURL     string `yaml:"token_url"`
	UserinfoURL  string `yaml:"userinfo_url"`
	// EndSessionURL is the provider-side logout endpoint.
	EndSessionURL string `yaml:"end_session_url"`
	// JWKSURL enables id_token signature verification when set together
	// with issuer.
	JWKSURL string `yaml:"jwks_url"`
	// ProfileURL is an optional management API returning a richer profile.
	ProfileURL string `yaml:"profile_url"`
	// RedirectURI must exactly match the value registered with the
	// provider; it is sent on both the authorization request and the
	// token exchange.
	RedirectURI    string   `yaml:"redirect_uri"`
	Scopes         []string `yaml:"scopes"`
	RequestTimeout string   `yaml:"request_timeout"`
}

// Timeout returns the parsed provider request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return parseDuration(p.RequestTimeout, DefaultRequestTimeout)
}

// SessionConfig holds the codec secret and signature window.
type SessionConfig struct {
	SigningSecret string `yaml:"signing_secret"`
	SignatureTTL  string `yaml:"signature_ttl"`
}

// SignatureWindow returns the parsed signature-layer validity window.
func (s SessionConfig) SignatureWindow() time.Duration {
	return parseDuration(s.SignatureTTL, DefaultSignatureTTL)
}

// ProxyConfig defines authenticated forwarding routes to backend services.
type ProxyConfig struct {
	Routes []ProxyRoute `yaml:"routes"`
}

// ProxyRoute maps a local path prefix to a backend target.
type ProxyRoute struct {
	Prefix      string `yaml:"prefix"`
	Target      string `yaml:"target"`
	StripPrefix bool   `yaml:"strip_prefix"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Strict unmarshaling to detect typos and deprecated fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8080",
			DevListenAddr:   "127.0.0.1:8080",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			DefaultLanding:  DefaultLandingPath,
			ErrorPath:       DefaultErrorPath,
		},
		Provider: ProviderConfig{
			Scopes: []string{"openid", "profile", "email"},
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"AUTHD_PUBLIC_URL":      func(v string) { cfg.Server.PublicURL = v },
		"AUTHD_DEV_LISTEN_ADDR": func(v string) { cfg.Server.DevListenAddr = v },
		"AUTHD_DEV_MODE":        func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"AUTHD_SECRETS_PATH":    func(v string) { cfg.Server.SecretsPath = v },
		"AUTHD_CLIENT_ID":       func(v string) { cfg.Provider.ClientID = v },
		"AUTHD_CLIENT_SECRET":   func(v string) { cfg.Provider.ClientSecret = v },
		"AUTHD_AUTHORIZE_URL":   func(v string) { cfg.Provider.AuthorizeURL = v },
		"AUTHD_TOKEN_URL":       func(v string) { cfg.Provider.TokenURL = v },
		"AUTHD_USERINFO_URL":    func(v string) { cfg.Provider.UserinfoURL = v },
		"AUTHD_END_SESSION_URL": func(v string) { cfg.Provider.EndSessionURL = v },
		"AUTHD_JWKS_URL":        func(v string) { cfg.Provider.JWKSURL = v },
		"AUTHD_REDIRECT_URI":    func(v string) { cfg.Provider.RedirectURI = v },
		"AUTHD_SCOPES":          func(v string) { cfg.Provider.Scopes = splitAndTrim(v) },
		"AUTHD_SIGNING_SECRET":  func(v string) { cfg.Session.SigningSecret = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !isHTTPURL(c.Server.PublicURL) {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL)
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}
	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}
	if c.Server.DefaultLanding != "" && !strings.HasPrefix(c.Server.DefaultLanding, "/") {
		slog.Error("Invalid configuration value", "field", "server.default_landing", "value", c.Server.DefaultLanding)
		return errors.New("server.default_landing must be a local path")
	}

	required := []struct{ field, value string }{
		{"provider.client_id", c.Provider.ClientID},
		{"provider.authorize_url", c.Provider.AuthorizeURL},
		{"provider.token_url", c.Provider.TokenURL},
		{"provider.userinfo_url", c.Provider.UserinfoURL},
		{"provider.end_session_url", c.Provider.EndSessionURL},
		{"provider.redirect_uri", c.Provider.RedirectURI},
	}
	for _, req := range required {
		if req.value == "" {
			slog.Error("Missing required configuration", "field", req.field)
			return fmt.Errorf("%s is required", req.field)
		}
	}
	for _, urlField := range []struct{ field, value string }{
		{"provider.authorize_url", c.Provider.AuthorizeURL},
		{"provider.token_url", c.Provider.TokenURL},
		{"provider.userinfo_url", c.Provider.UserinfoURL},
		{"provider.end_session_url", c.Provider.EndSessionURL},
		{"provider.redirect_uri", c.Provider.RedirectURI},
	} {
		if !isHTTPURL(urlField.value) {
			slog.Error("Invalid configuration value", "field", urlField.field, "value", urlField.value)
			return fmt.Errorf("%s must start with http:// or https://, got: %s", urlField.field, urlField.value)
		}
	}

	hasOpenID := false
	for _, s := range c.Provider.Scopes {
		if s == "openid" {
			hasOpenID = true
		}
	}
	if !hasOpenID {
		slog.Error("Invalid configuration value", "field", "provider.scopes", "reason", "must include openid")
		return errors.New("provider.scopes must include openid")
	}

	if c.Session.SigningSecret == "" {
		slog.Error("Missing required configuration", "field", "session.signing_secret")
		return errors.New("session.signing_secret is required")
	}
	if len(c.Session.SigningSecret) < 32 {
		slog.Error("Invalid configuration value", "field", "session.signing_secret", "reason", "must be at least 32 bytes")
		return errors.New("session.signing_secret must be at least 32 bytes")
	}

	for _, durField := range []struct{ field, value string }{
		{"provider.request_timeout", c.Provider.RequestTimeout},
		{"session.signature_ttl", c.Session.SignatureTTL},
	} {
		if durField.value == "" {
			continue
		}
		if _, err := time.ParseDuration(durField.value); err != nil {
			slog.Error("Invalid duration", "field", durField.field, "value", durField.value, "error", err)
			return fmt.Errorf("%s: invalid duration %q: %w", durField.field, durField.value, err)
		}
	}

	for i, route := range c.Proxy.Routes {
		if len(route.Prefix) < 2 || !strings.HasPrefix(route.Prefix, "/") {
			slog.Error("Invalid proxy route prefix", "index", i, "prefix", route.Prefix)
			return fmt.Errorf("proxy.routes[%d]: prefix must be a local path", i)
		}
		if !isHTTPURL(route.Target) {
			slog.Error("Invalid proxy route target", "index", i, "target", route.Target)
			return fmt.Errorf("proxy.routes[%d] (%s): target must start with http:// or https://", i, route.Prefix)
		}
	}

	return nil
}

func isHTTPURL(v string) bool {
	return strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}
