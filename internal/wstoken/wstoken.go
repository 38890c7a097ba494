// Package wstoken implements the single-use, short-TTL token store used for
// the downstream-WS handshake (§4.4, §6, B6).
package wstoken

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL matches ws_token_ttl's documented default (§6).
const DefaultTTL = 60 * time.Second

// tokenByteLen yields a 256-bit token once hex-encoded (32 bytes -> 64 hex chars).
const tokenByteLen = 32

// sentinelTokens are the literal strings B6 requires rejecting as if empty.
var sentinelTokens = map[string]bool{
	"":          true,
	"undefined": true,
	"null":      true,
}

// IsEmptyOrSentinel reports whether token should be treated as absent (B6).
func IsEmptyOrSentinel(token string) bool {
	return sentinelTokens[token]
}

type entry struct {
	consumerID string
	expiresAt  time.Time
}

// Store maps an opaque token to the consumer that minted it, for single-use
// redemption during the downstream-WS handshake.
type Store struct {
	mu     sync.Mutex
	tokens map[string]entry
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Store with the given TTL. A zero ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		tokens: make(map[string]entry),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue mints a new ≥256-bit random token for consumerID and records its TTL.
func (s *Store) Issue(consumerID string) (string, error) {
	buf := make([]byte, tokenByteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = entry{consumerID: consumerID, expiresAt: s.now().Add(s.ttl)}
	return token, nil
}

// Consume atomically removes and returns the consumer id for token, iff the
// token exists and has not expired. Single-use: a second Consume call with
// the same token always misses.
func (s *Store) Consume(token string) (consumerID string, ok bool) {
	if IsEmptyOrSentinel(token) {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, found := s.tokens[token]
	if !found {
		return "", false
	}
	delete(s.tokens, token)
	if s.now().After(e.expiresAt) {
		return "", false
	}
	return e.consumerID, true
}

// Prune removes expired, never-consumed tokens.
func (s *Store) Prune() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, e := range s.tokens {
		if now.After(e.expiresAt) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}
