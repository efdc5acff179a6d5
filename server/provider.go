package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// TokenSet is the provider's response to a successful code exchange. It is
// received once and embedded into the session, never re-derived.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	Expiry       time.Time
}

// Identity holds the claims fetched from the userinfo endpoint. The named
// fields are what sessions carry; Raw preserves everything else.
type Identity struct {
	Subject    string
	Name       string
	Email      string
	GivenName  string
	FamilyName string
	Raw        map[string]any
}

// Provider is the client side of the external identity provider. All
// endpoints come from configuration; nothing is discovered at runtime.
type Provider struct {
	cfg      ProviderConfig
	oauth    *oauth2.Config
	userinfo *oidc.Provider
	verifier *oidc.IDTokenVerifier
	http     *http.Client
	logger   *slog.Logger
}

// NewProvider builds the provider client from enumerated endpoints.
func NewProvider(ctx context.Context, cfg ProviderConfig, logger *slog.Logger) (*Provider, error) {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout()

	// Public clients authenticate with PKCE only; confidential clients
	// send Basic credentials on the token endpoint.
	authStyle := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		authStyle = oauth2.AuthStyleInParams
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: authStyle,
		},
		Scopes: cfg.Scopes,
	}

	clientCtx := oidc.ClientContext(ctx, httpClient)
	providerCfg := oidc.ProviderConfig{
		IssuerURL:   cfg.Issuer,
		AuthURL:     cfg.AuthorizeURL,
		TokenURL:    cfg.TokenURL,
		UserInfoURL: cfg.UserinfoURL,
		JWKSURL:     cfg.JWKSURL,
	}
	userinfo := providerCfg.NewProvider(clientCtx)

	var verifier *oidc.IDTokenVerifier
	if cfg.JWKSURL != "" && cfg.Issuer != "" {
		keySet := oidc.NewRemoteKeySet(clientCtx, cfg.JWKSURL)
		verifier = oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID})
	}

	return &Provider{
		cfg:      cfg,
		oauth:    oauthCfg,
		userinfo: userinfo,
		verifier: verifier,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// AuthCodeURL constructs the authorization request URL with the PKCE
// challenge and CSRF state.
func (p *Provider) AuthCodeURL(state, codeChallenge string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

// Exchange redeems the authorization code with the stored verifier. The
// redirect_uri sent here is the same one used on the authorization request;
// providers validate the two match. When id_token verification is
// configured, an unverifiable id_token fails the exchange.
func (p *Provider) Exchange(ctx context.Context, code, codeVerifier string) (TokenSet, error) {
	ctx = p.clientContext(ctx)
	tok, err := p.oauth.Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return TokenSet{}, fmt.Errorf("exchange code: %w", err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if p.verifier != nil {
		if rawIDToken == "" {
			return TokenSet{}, fmt.Errorf("id_token missing in response")
		}
		if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
			return TokenSet{}, fmt.Errorf("verify id_token: %w", err)
		}
	}

	return TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       tok.Expiry,
	}, nil
}

// Userinfo fetches identity claims with the access token and normalizes
// them. Claims are provider-asserted facts; nothing beyond came-from-
// provider trust is checked here.
func (p *Provider) Userinfo(ctx context.Context, accessToken string) (Identity, error) {
	ctx = p.clientContext(ctx)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := p.userinfo.UserInfo(ctx, src)
	if err != nil {
		return Identity{}, fmt.Errorf("fetch userinfo: %w", err)
	}

	var raw map[string]any
	if err := info.Claims(&raw); err != nil {
		return Identity{}, fmt.Errorf("parse userinfo claims: %w", err)
	}

	id := Identity{
		Subject: info.Subject,
		Email:   info.Email,
		Raw:     raw,
	}
	if name, ok := raw["name"].(string); ok {
		id.Name = name
	} else if preferred, ok := raw["preferred_username"].(string); ok {
		id.Name = preferred
	}
	if given, ok := raw["given_name"].(string); ok {
		id.GivenName = given
	}
	if family, ok := raw["family_name"].(string); ok {
		id.FamilyName = family
	}

	return id, nil
}

// FetchDetailedProfile queries the optional management API for a richer
// profile. Callers treat failures as non-fatal.
func (p *Provider) FetchDetailedProfile(ctx context.Context, accessToken string) (map[string]any, error) {
	if p.cfg.ProfileURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ProfileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("profile endpoint returned %s", resp.Status)
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return profile, nil
}

// EndSessionURL builds the provider-side logout URL. The id_token hint is
// optional; logout proceeds without it.
func (p *Provider) EndSessionURL(idTokenHint, postLogoutRedirect string) string {
	u, err := url.Parse(p.cfg.EndSessionURL)
	if err != nil {
		return p.cfg.EndSessionURL
	}
	q := u.Query()
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.http)
}
