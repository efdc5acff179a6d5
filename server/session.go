package server

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// User is the identity embedded in a session, as asserted by the provider.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

// Session is the authenticated unit of truth handed to the rest of the
// application. It is created once by the callback handler and never mutated
// afterwards; destruction is cookie deletion or expiry.
type Session struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	IDToken      string `json:"idToken,omitempty"`
	// ExpiresAt is absolute epoch milliseconds, set at creation to
	// issue time plus the provider-reported token lifetime.
	ExpiresAt int64 `json:"expiresAt"`
	// Claims preserves provider claims beyond the named User fields.
	// They are carried, not trusted for authorization decisions.
	Claims          map[string]any `json:"claims,omitempty"`
	DetailedProfile map[string]any `json:"detailedProfile,omitempty"`
}

// Expired reports whether the session's own lifetime has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return now.UnixMilli() > s.ExpiresAt
}

type sessionClaims struct {
	Session
	jwt.RegisteredClaims
}

// SessionCodec signs sessions into opaque bearer strings and verifies them
// back. The signing secret is injected at construction; rotating it
// invalidates every outstanding session, which is acceptable because
// sessions are short-lived.
type SessionCodec struct {
	secret       []byte
	signatureTTL time.Duration
}

// DefaultSignatureTTL bounds token validity at the signature layer,
// independent of the session's own expiresAt.
const DefaultSignatureTTL = time.Hour

// NewSessionCodec constructs a codec. An empty secret is refused: signing
// with a guessable key would make every session forgeable.
func NewSessionCodec(secret []byte, signatureTTL time.Duration) (*SessionCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("signing secret required")
	}
	if signatureTTL <= 0 {
		signatureTTL = DefaultSignatureTTL
	}
	return &SessionCodec{secret: secret, signatureTTL: signatureTTL}, nil
}

// SignatureTTL returns the signature-layer validity window.
func (c *SessionCodec) SignatureTTL() time.Duration {
	return c.signatureTTL
}

// Sign serializes the session into a compact HS256 token. The exp claim is
// the signature-layer expiry, a secondary defense separate from the
// session's own expiresAt.
func (c *SessionCodec) Sign(sess Session) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Session: sess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.signatureTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Verify decodes a signed token. It fails closed: any malformed structure,
// signature mismatch, or elapsed signature-layer expiry yields nil. It does
// NOT check the session's own expiresAt; callers apply their own policy so
// that expiry can be reported distinctly from invalidity.
func (c *SessionCodec) Verify(token string) *Session {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{},
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return nil
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok {
		return nil
	}
	sess := claims.Session
	return &sess
}

// DecodeUnverified extracts the session payload without validating the
// signature. Logout uses it to recover the id_token hint from a session
// whose signature window already elapsed; the result must never be trusted
// for authentication.
func (c *SessionCodec) DecodeUnverified(token string) *Session {
	claims := &sessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	sess := claims.Session
	return &sess
}
