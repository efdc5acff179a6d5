package server

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func sampleSession(expiresAt int64) Session {
	return Session{
		User: User{
			ID:         "user-42",
			Name:       "Ada Lovelace",
			Email:      "ada@example.com",
			GivenName:  "Ada",
			FamilyName: "Lovelace",
		},
		AccessToken:  "at-secret",
		RefreshToken: "rt-secret",
		IDToken:      "idt-secret",
		ExpiresAt:    expiresAt,
		Claims:       map[string]any{"locale": "en"},
	}
}

func TestSessionCodecRoundTrip(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	want := sampleSession(time.Now().Add(time.Hour).UnixMilli())
	token, err := codec.Sign(want)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token %q is not a compact JWS", token)
	}

	got := codec.Verify(token)
	if got == nil {
		t.Fatalf("verify returned nil for freshly signed token")
	}
	if !reflect.DeepEqual(*got, want) {
		t.Fatalf("round trip mismatch:\ngot  %+v\nwant %+v", *got, want)
	}
}

func TestSessionCodecRejectsTamper(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	token, err := codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Flip one byte in the payload segment.
	parts := strings.Split(token, ".")
	payload := []byte(parts[1])
	if payload[10] == 'A' {
		payload[10] = 'B'
	} else {
		payload[10] = 'A'
	}
	tampered := parts[0] + "." + string(payload) + "." + parts[2]

	if sess := codec.Verify(tampered); sess != nil {
		t.Fatalf("tampered token verified: %+v", sess)
	}
}

func TestSessionCodecRejectsWrongSecret(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	other, err := NewSessionCodec([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	token, err := codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sess := other.Verify(token); sess != nil {
		t.Fatalf("token verified under a different secret")
	}
}

func TestSessionCodecSignatureWindow(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Millisecond)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	token, err := codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if sess := codec.Verify(token); sess != nil {
		t.Fatalf("token verified past its signature window")
	}
}

func TestVerifyIgnoresSessionExpiry(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	// Session lifetime elapsed, signature window still open. Verify must
	// succeed; the caller decides what expiry means.
	expired := sampleSession(time.Now().Add(-time.Minute).UnixMilli())
	token, err := codec.Sign(expired)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	sess := codec.Verify(token)
	if sess == nil {
		t.Fatalf("verify rejected a session whose own lifetime elapsed")
	}
	if !sess.Expired(time.Now()) {
		t.Fatalf("Expired() = false for elapsed session")
	}
}

func TestDecodeUnverified(t *testing.T) {
	codec, err := NewSessionCodec(testSecret(), time.Millisecond)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	token, err := codec.Sign(sampleSession(time.Now().Add(time.Hour).UnixMilli()))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	if codec.Verify(token) != nil {
		t.Fatalf("expected signature window to have elapsed")
	}
	sess := codec.DecodeUnverified(token)
	if sess == nil {
		t.Fatalf("DecodeUnverified returned nil")
	}
	if sess.IDToken != "idt-secret" {
		t.Fatalf("IDToken = %q, want idt-secret", sess.IDToken)
	}
}

func TestNewSessionCodecRequiresSecret(t *testing.T) {
	if _, err := NewSessionCodec(nil, time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
