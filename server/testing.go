package server

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/google/uuid"
)

// TestClientID is the client identifier the fake provider accepts.
const TestClientID = "test-client"

// TestProvider is an in-process identity provider for handler and flow
// tests. It serves the authorize, token, userinfo, jwks, and end-session
// endpoints over httptest and mints RS256 id_tokens with a throwaway key.
type TestProvider struct {
	Server *httptest.Server

	// Claims returned by the userinfo endpoint and embedded in id_tokens.
	Claims map[string]any
	// ExpiresIn is the access token lifetime reported on exchange, seconds.
	ExpiresIn int
	// FailExchange makes the token endpoint answer 400.
	FailExchange bool
	// FailUserinfo makes the userinfo endpoint answer 500.
	FailUserinfo bool

	key    *rsa.PrivateKey
	signer jose.Signer
	keyID  string

	mu            sync.Mutex
	tokenHits     int
	lastTokenForm map[string][]string
	accessToken   string
}

// NewTestProvider starts the fake provider. Callers own shutdown via Close.
func NewTestProvider(t interface{ Fatalf(string, ...any) }) *TestProvider {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	keyID := uuid.NewString()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithHeader("kid", keyID),
	)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}

	p := &TestProvider{
		Claims: map[string]any{
			"sub":   "u1",
			"name":  "Test User",
			"email": "a@b.com",
		},
		ExpiresIn: 3600,
		key:       key,
		signer:    signer,
		keyID:     keyID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", p.handleAuthorize)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/userinfo", p.handleUserinfo)
	mux.HandleFunc("/jwks.json", p.handleJWKS)
	mux.HandleFunc("/logout", p.handleEndSession)
	p.Server = httptest.NewServer(mux)

	return p
}

// Close shuts the fake provider down.
func (p *TestProvider) Close() {
	p.Server.Close()
}

// ProviderConfig returns configuration pointing at the fake provider.
func (p *TestProvider) ProviderConfig(redirectURI string) ProviderConfig {
	base := p.Server.URL
	return ProviderConfig{
		ClientID:      TestClientID,
		Issuer:        base,
		AuthorizeURL:  base + "/authorize",
		TokenURL:      base + "/token",
		UserinfoURL:   base + "/userinfo",
		EndSessionURL: base + "/logout",
		RedirectURI:   redirectURI,
		Scopes:        []string{"openid", "profile", "email"},
	}
}

// TokenEndpointHits reports how many times the token endpoint was called.
func (p *TestProvider) TokenEndpointHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenHits
}

// LastTokenForm returns the form body of the most recent token request.
func (p *TestProvider) LastTokenForm() map[string][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

// SignIDToken mints an RS256 id_token with the provider's key.
func (p *TestProvider) SignIDToken(extra map[string]any) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"iss": p.Server.URL,
		"aud": TestClientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	p.mu.Lock()
	for k, v := range p.Claims {
		claims[k] = v
	}
	p.mu.Unlock()
	for k, v := range extra {
		claims[k] = v
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig, err := p.signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return sig.CompactSerialize()
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	// Real providers show a login page here; tests drive the callback
	// directly, so this only needs to exist.
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "authorize")
}

func (p *TestProvider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.tokenHits++
	p.lastTokenForm = r.PostForm
	p.accessToken = "at-" + uuid.NewString()
	accessToken := p.accessToken
	expiresIn := p.ExpiresIn
	fail := p.FailExchange
	p.mu.Unlock()

	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" ||
		r.PostForm.Get("code") == "" ||
		r.PostForm.Get("code_verifier") == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request"})
		return
	}

	idToken, err := p.SignIDToken(nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  accessToken,
		"refresh_token": "rt-" + uuid.NewString(),
		"id_token":      idToken,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
	})
}

func (p *TestProvider) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	expected := p.accessToken
	fail := p.FailUserinfo
	claims := make(map[string]any, len(p.Claims))
	for k, v := range p.Claims {
		claims[k] = v
	}
	p.mu.Unlock()

	if fail {
		http.Error(w, "userinfo unavailable", http.StatusInternalServerError)
		return
	}

	auth := r.Header.Get("Authorization")
	if expected == "" || auth != "Bearer "+expected {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claims)
}

func (p *TestProvider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       p.key.Public(),
			KeyID:     p.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

func (p *TestProvider) handleEndSession(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "signed out")
}

// JWKSURL returns the fake provider's key set endpoint.
func (p *TestProvider) JWKSURL() string {
	return p.Server.URL + "/jwks.json"
}
