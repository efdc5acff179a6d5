package server

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Denylist tracks revoked session tokens until their signature window
// elapses. Entries are keyed by token digest so the raw bearer string is
// never held in memory longer than the request.
type Denylist struct {
	cache *ttlcache.Cache[string, struct{}]
}

// NewDenylist constructs the denylist and starts its expiry loop.
func NewDenylist() *Denylist {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &Denylist{cache: cache}
}

// Revoke marks a token revoked for the given remaining lifetime. A token
// whose signature window already elapsed needs no entry; Verify rejects it
// on its own.
func (d *Denylist) Revoke(token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	d.cache.Set(hashToken(token), struct{}{}, ttl)
}

// Revoked reports whether the token was revoked and is still inside its
// signature window.
func (d *Denylist) Revoked(token string) bool {
	return d.cache.Has(hashToken(token))
}

// Close stops the expiry loop.
func (d *Denylist) Close() {
	d.cache.Stop()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
