package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestRequireSessionNoCookie(t *testing.T) {
	tp := NewTestProvider(t)
	defer tp.Close()
	app := newTestApp(t, tp, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if code := authError(t, rec); code != "unauthorized" {
		t.Fatalf("error code = %q, want unauthorized", code)
	}
}

func TestRequireSessionGarbageToken(t *testing.T) {
	tp := NewTestProvider(t)
	defer tp.Close()
	app := newTestApp(t, tp, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "not.a.token"})
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if code := authError(t, rec); code != "unauthorized" {
		t.Fatalf("error code = %q, want unauthorized", code)
	}
}

func TestRequireSessionExpired(t *testing.T) {
	tp := NewTestProvider(t)
	defer tp.Close()
	app := newTestApp(t, tp, nil)

	// Signature window still open, session lifetime elapsed. This is the
	// one case callers can distinguish.
	token, err := app.Codec.Sign(sampleSession(time.Now().Add(-time.Minute).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if code := authError(t, rec); code != "session_expired" {
		t.Fatalf("error code = %q, want session_expired", code)
	}
}

func TestRequireSessionDenylisted(t *testing.T) {
	tp := NewTestProvider(t)
	defer tp.Close()
	app := newTestApp(t, tp, nil)

	token, err := app.Codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	app.Denylist.Revoke(token, time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, req)

	if code := authError(t, rec); code != "unauthorized" {
		t.Fatalf("error code = %q, want unauthorized", code)
	}
}

func TestRequireSessionAttachesContext(t *testing.T) {
	tp := NewTestProvider(t)
	defer tp.Close()
	app := newTestApp(t, tp, nil)

	token, err := app.Codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var got *Session
	handler := app.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got == nil || got.User.ID != "user-42" {
		t.Fatalf("session not attached to context: %+v", got)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatalf("request id not generated")
	}
	if rec.Header().Get("X-Request-Id") != seen {
		t.Fatalf("request id not echoed in response")
	}

	// An inbound id is preserved for cross-service correlation.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "upstream-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "upstream-id" {
		t.Fatalf("inbound request id replaced: %q", seen)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("HSTS header missing")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("nosniff header missing")
	}
}
