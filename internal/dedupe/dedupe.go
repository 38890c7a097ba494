// Package dedupe implements the bounded-TTL set of upstream message ids
// used to swallow Twitch redeliveries (§4.4, P9, B-dedupe).
package dedupe

import (
	"sync"
	"time"
)

// DefaultTTL matches dedupe_ttl's documented default (§6).
const DefaultTTL = 10 * time.Minute

// Deduper is a TTL set of message ids. IsNew reports true exactly once per
// id within the TTL window; empty ids are always rejected (never "new").
// Expiration is sweep-on-access (every IsNew call evicts anything already
// expired) plus a periodic Prune for ids that are never looked up again.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Deduper with the given TTL. A zero ttl falls back to DefaultTTL.
func New(ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduper{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsNew returns true the first time id is seen within the TTL window, false
// on every subsequent call until the entry expires. An empty id is always
// rejected (returns false) so that callers can't accidentally treat a
// missing message-id as "new" forever.
func (d *Deduper) IsNew(id string) bool {
	if id == "" {
		return false
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for seenID, expiresAt := range d.seen {
		if !now.Before(expiresAt) {
			delete(d.seen, seenID)
		}
	}

	if expiresAt, ok := d.seen[id]; ok {
		if now.Before(expiresAt) {
			return false
		}
		// Expired entry reusing the same id — treat as new.
	}
	d.seen[id] = now.Add(d.ttl)
	return true
}

// Prune removes every expired entry. Intended to be called periodically
// from a background loop so that ids which are never looked up again don't
// keep the map growing unbounded between IsNew calls.
func (d *Deduper) Prune() int {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for id, expiresAt := range d.seen {
		if !now.Before(expiresAt) {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len reports how many ids are currently tracked (including not-yet-pruned
// expired ones) — used by tests.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
