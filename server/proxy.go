package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ProxyManager forwards authenticated requests to backend services,
// attaching the caller's provider access token and identity headers. It
// exists so browser code can call backend APIs through the session cookie
// without ever seeing the tokens.
type ProxyManager struct {
	routes []*proxyRoute
	logger *slog.Logger
}

type proxyRoute struct {
	prefix      string
	stripPrefix bool
	target      *url.URL
	proxy       *httputil.ReverseProxy
}

// NewProxyManager parses the configured routes. An unparseable target is a
// startup error, not a runtime one.
func NewProxyManager(cfg ProxyConfig, logger *slog.Logger) (*ProxyManager, error) {
	m := &ProxyManager{logger: logger}

	for _, rc := range cfg.Routes {
		target, err := url.Parse(rc.Target)
		if err != nil {
			return nil, fmt.Errorf("proxy route %s: parse target: %w", rc.Prefix, err)
		}

		route := &proxyRoute{
			prefix:      strings.TrimSuffix(rc.Prefix, "/"),
			stripPrefix: rc.StripPrefix,
			target:      target,
		}

		rp := httputil.NewSingleHostReverseProxy(target)
		baseDirector := rp.Director
		rp.Director = func(req *http.Request) {
			baseDirector(req)
			route.rewrite(req)
		}
		rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("proxy backend unreachable",
				"prefix", route.prefix,
				"target", route.target.String(),
				"error", err,
			)
			writeJSONError(w, http.StatusBadGateway, "bad_gateway", "backend unavailable")
		}
		route.proxy = rp

		m.routes = append(m.routes, route)
	}

	return m, nil
}

// rewrite adjusts the outgoing request path and attaches identity headers
// from the session placed in context by RequireSession.
func (rt *proxyRoute) rewrite(req *http.Request) {
	if rt.stripPrefix {
		trimmed := strings.TrimPrefix(req.URL.Path, rt.prefix)
		if trimmed == "" {
			trimmed = "/"
		}
		req.URL.Path = trimmed
	}
	req.Host = rt.target.Host

	// Inbound identity headers are always dropped so a client cannot
	// impersonate the gateway.
	req.Header.Del("Authorization")
	req.Header.Del("X-User-Id")
	req.Header.Del("X-User-Email")

	if sess := SessionFromContext(req.Context()); sess != nil {
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
		req.Header.Set("X-User-Id", sess.User.ID)
		req.Header.Set("X-User-Email", sess.User.Email)
	}
	if id := RequestIDFromContext(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
}

// Mount registers each route behind the session gate.
func (m *ProxyManager) Mount(r chi.Router, a *App) {
	for _, route := range m.routes {
		rt := route
		handler := a.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rt.proxy.ServeHTTP(w, req)
		}))
		r.Handle(rt.prefix, handler)
		r.Handle(rt.prefix+"/*", handler)
		m.logger.Info("proxy route mounted", "prefix", rt.prefix, "target", rt.target.String())
	}
}
