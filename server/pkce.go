package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrEntropySource indicates the secure random source failed. Logins cannot
// be issued safely while this persists; callers must not retry.
var ErrEntropySource = errors.New("secure random source unavailable")

const (
	verifierEntropyBytes = 32
	stateEntropyBytes    = 24
)

// GenerateVerifier returns a PKCE code verifier: 32 bytes from crypto/rand,
// base64url encoded without padding (43 characters, RFC 7636 minimum).
func GenerateVerifier() (string, error) {
	buf := make([]byte, verifierEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropySource, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// ChallengeS256 derives the S256 code challenge for a verifier. The
// transform is deterministic and one-way: SHA-256 over the verifier's ASCII
// bytes, base64url without padding.
func ChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns an unguessable state token for CSRF protection.
func GenerateState() (string, error) {
	buf := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropySource, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
