package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router assembles the HTTP surface. The auth endpoints other than /auth/me
// are public by design: login and callback run before a session exists, and
// logout must work even with a damaged cookie.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware)
	}

	r.Get("/healthz", a.handleHealth)
	r.Get("/auth/login", a.handleLogin)
	r.Get("/auth/callback", a.handleCallback)
	r.Get("/auth/logout", a.handleLogout)

	r.Group(func(gr chi.Router) {
		gr.Use(a.RequireSession)
		gr.Get("/auth/me", a.handleMe)
	})

	a.Proxy.Mount(r, a)

	return r
}
