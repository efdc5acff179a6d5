package server

import "net/http"

// Cookie names carrying the authorization request context across the
// provider round-trip, plus the session cookie itself.
const (
	verifierCookieName = "pkce_verifier"
	stateCookieName    = "oauth_state"
	redirectCookieName = "auth_redirect"
	sessionCookieName  = "session-token"
)

// Cookie lifetimes are part of the security contract and deliberately not
// configurable.
const (
	transientCookieMaxAge = 600
	sessionCookieMaxAge   = 3600
)

func newAuthCookie(name, value string, maxAge int, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		// Lax, not Strict: the provider redirect back to /auth/callback is
		// a cross-site top-level navigation and must carry these cookies.
		SameSite: http.SameSiteLaxMode,
	}
}

// setTransientCookies stashes the PKCE verifier, state, and post-login
// destination in the user agent. These cookies are the only persistence of
// the authorization request context; the server keeps no state between the
// redirect and the callback.
func setTransientCookies(w http.ResponseWriter, secure bool, verifier, state, redirect string) {
	http.SetCookie(w, newAuthCookie(verifierCookieName, verifier, transientCookieMaxAge, secure))
	http.SetCookie(w, newAuthCookie(stateCookieName, state, transientCookieMaxAge, secure))
	http.SetCookie(w, newAuthCookie(redirectCookieName, redirect, transientCookieMaxAge, secure))
}

func clearTransientCookies(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, newAuthCookie(verifierCookieName, "", -1, secure))
	http.SetCookie(w, newAuthCookie(stateCookieName, "", -1, secure))
	http.SetCookie(w, newAuthCookie(redirectCookieName, "", -1, secure))
}

func setSessionCookie(w http.ResponseWriter, secure bool, token string) {
	http.SetCookie(w, newAuthCookie(sessionCookieName, token, sessionCookieMaxAge, secure))
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, newAuthCookie(sessionCookieName, "", -1, secure))
}
