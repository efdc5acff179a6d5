package server

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateVerifierShape(t *testing.T) {
	v, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("generate verifier: %v", err)
	}
	if len(v) != 43 {
		t.Fatalf("verifier length = %d, want 43", len(v))
	}
	const allowed = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	for _, c := range v {
		if !strings.ContainsRune(allowed, c) {
			t.Fatalf("verifier contains %q outside base64url alphabet", c)
		}
	}
}

func TestGenerateVerifierUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v, err := GenerateVerifier()
		if err != nil {
			t.Fatalf("generate verifier: %v", err)
		}
		if seen[v] {
			t.Fatalf("verifier %q repeated", v)
		}
		seen[v] = true
	}
}

func TestChallengeS256Deterministic(t *testing.T) {
	v, err := GenerateVerifier()
	if err != nil {
		t.Fatalf("generate verifier: %v", err)
	}

	c1 := ChallengeS256(v)
	c2 := ChallengeS256(v)
	if c1 != c2 {
		t.Fatalf("challenge not deterministic: %q vs %q", c1, c2)
	}

	sum := sha256.Sum256([]byte(v))
	want := base64.RawURLEncoding.EncodeToString(sum[:])
	if c1 != want {
		t.Fatalf("challenge = %q, want %q", c1, want)
	}
	if strings.ContainsAny(c1, "=+/") {
		t.Fatalf("challenge %q contains padding or standard alphabet characters", c1)
	}
}

func TestGenerateStateUnique(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("generate state: %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("generate state: %v", err)
	}
	if a == b {
		t.Fatalf("two states identical: %q", a)
	}
	if len(a) != 32 {
		t.Fatalf("state length = %d, want 32", len(a))
	}
}
