package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// App wires the configuration, provider client, session codec, and
// revocation list into the HTTP handlers.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Codec    *SessionCodec
	Provider *Provider
	Denylist *Denylist
	Proxy    *ProxyManager
}

// NewApp constructs the application from validated configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	codec, err := NewSessionCodec([]byte(cfg.Session.SigningSecret), cfg.Session.SignatureWindow())
	if err != nil {
		return nil, fmt.Errorf("session codec: %w", err)
	}

	provider, err := NewProvider(ctx, cfg.Provider, logger)
	if err != nil {
		return nil, fmt.Errorf("provider client: %w", err)
	}

	proxy, err := NewProxyManager(cfg.Proxy, logger)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Codec:    codec,
		Provider: provider,
		Denylist: NewDenylist(),
		Proxy:    proxy,
	}, nil
}

// Close releases background resources.
func (a *App) Close() {
	a.Denylist.Close()
}

func (a *App) secureCookies() bool {
	return !a.Config.Server.DevMode
}

// localPath accepts only same-origin destinations. Anything with a scheme,
// host, or protocol-relative prefix is replaced with the default landing
// page so the login flow cannot become an open redirector.
func (a *App) localPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return a.Config.Server.DefaultLanding
	}
	return p
}

// handleLogin starts the authorization flow. It mints fresh PKCE and state
// material per attempt, stashes them in cookies, and redirects to the
// provider. A later attempt simply overwrites the cookies; only the most
// recent attempt can complete.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	verifier, err := GenerateVerifier()
	if err != nil {
		a.Logger.Error("failed to generate pkce verifier", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "unable to start login")
		return
	}
	state, err := GenerateState()
	if err != nil {
		a.Logger.Error("failed to generate state", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "unable to start login")
		return
	}

	dest := a.localPath(r.URL.Query().Get("redirect"))
	setTransientCookies(w, a.secureCookies(), verifier, state, dest)

	authURL := a.Provider.AuthCodeURL(state, ChallengeS256(verifier))
	a.Logger.Info("login initiated", "destination", dest, "request_id", RequestIDFromContext(r.Context()))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleCallback completes the flow. Checks run cheapest-first: provider
// error, parameter presence, then state, all before any network call. The
// state comparison is constant-time. On any failure the transient cookies
// are cleared and the browser lands on the error page with a coarse code;
// details stay in the log.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if provErr := q.Get("error"); provErr != "" {
		a.redirectError(w, r, flowErr(ErrCodeProvider,
			fmt.Errorf("provider returned %q: %s", provErr, q.Get("error_description"))))
		return
	}

	code := q.Get("code")
	state := q.Get("state")
	if code == "" || state == "" {
		a.redirectError(w, r, flowErr(ErrCodeMalformedCallback,
			errors.New("callback missing code or state")))
		return
	}

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		a.redirectError(w, r, flowErr(ErrCodeInvalidState,
			errors.New("state cookie absent")))
		return
	}
	if subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(state)) != 1 {
		a.redirectError(w, r, flowErr(ErrCodeInvalidState,
			errors.New("state mismatch")))
		return
	}

	// A lost verifier gets the same answer as a bad state; both mean the
	// stored request context is unusable.
	verifierCookie, err := r.Cookie(verifierCookieName)
	if err != nil || verifierCookie.Value == "" {
		a.redirectError(w, r, flowErr(ErrCodeInvalidState,
			errors.New("verifier cookie absent")))
		return
	}

	tokens, err := a.Provider.Exchange(r.Context(), code, verifierCookie.Value)
	if err != nil {
		a.redirectError(w, r, flowErr(ErrCodeTokenExchange, err))
		return
	}

	identity, err := a.Provider.Userinfo(r.Context(), tokens.AccessToken)
	if err != nil {
		a.redirectError(w, r, flowErr(ErrCodeUserinfo, err))
		return
	}

	// Best effort. A missing detailed profile never fails the login.
	profile, err := a.Provider.FetchDetailedProfile(r.Context(), tokens.AccessToken)
	if err != nil {
		a.Logger.Warn("detailed profile fetch failed", "error", err, "subject", identity.Subject)
		profile = nil
	}

	sess := Session{
		User: User{
			ID:         identity.Subject,
			Name:       identity.Name,
			Email:      identity.Email,
			GivenName:  identity.GivenName,
			FamilyName: identity.FamilyName,
		},
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		IDToken:         tokens.IDToken,
		ExpiresAt:       tokens.Expiry.UnixMilli(),
		Claims:          identity.Raw,
		DetailedProfile: profile,
	}

	token, err := a.Codec.Sign(sess)
	if err != nil {
		a.redirectError(w, r, flowErr(ErrCodeLoginFailed, fmt.Errorf("sign session: %w", err)))
		return
	}

	dest := a.Config.Server.DefaultLanding
	if c, err := r.Cookie(redirectCookieName); err == nil && c.Value != "" {
		dest = a.localPath(c.Value)
	}

	clearTransientCookies(w, a.secureCookies())
	setSessionCookie(w, a.secureCookies(), token)

	a.Logger.Info("login completed",
		"subject", identity.Subject,
		"destination", dest,
		"request_id", RequestIDFromContext(r.Context()),
	)
	http.Redirect(w, r, dest, http.StatusFound)
}

// redirectError logs the cause and sends the browser to the error page with
// only the coarse code attached.
func (a *App) redirectError(w http.ResponseWriter, r *http.Request, ferr *FlowError) {
	a.Logger.Error("login flow failed",
		"code", ferr.Code,
		"error", ferr.Unwrap(),
		"request_id", RequestIDFromContext(r.Context()),
	)
	clearTransientCookies(w, a.secureCookies())

	dest := a.Config.Server.ErrorPath + "?error=" + url.QueryEscape(ferr.Code)
	http.Redirect(w, r, dest, http.StatusFound)
}

type meResponse struct {
	User      User  `json:"user"`
	ExpiresAt int64 `json:"expiresAt"`
}

// handleMe reports the authenticated identity. Tokens never leave the
// server; only the user and the session expiry are returned.
func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := SessionFromContext(r.Context())
	if sess == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: sess.User, ExpiresAt: sess.ExpiresAt})
}

// handleLogout clears the session locally and forwards the browser to the
// provider's end-session endpoint. The cookie is decoded without signature
// verification as a fallback so even an expired session still yields the
// id_token hint; nothing here grants authentication.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	var idTokenHint string
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		sess := a.Codec.Verify(cookie.Value)
		if sess == nil {
			sess = a.Codec.DecodeUnverified(cookie.Value)
		}
		if sess != nil {
			idTokenHint = sess.IDToken
		}
		a.Denylist.Revoke(cookie.Value, a.Codec.SignatureTTL())
	}

	clearSessionCookie(w, a.secureCookies())
	clearTransientCookies(w, a.secureCookies())

	dest := a.Provider.EndSessionURL(idTokenHint, a.Config.Server.PublicURL)
	a.Logger.Info("logout", "request_id", RequestIDFromContext(r.Context()))
	http.Redirect(w, r, dest, http.StatusFound)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
