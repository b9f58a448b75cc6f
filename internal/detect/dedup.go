package detect

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Key derives the dedup fingerprint of an event: a hash over the source
// id and the content with every non-alphanumeric character removed, so
// whitespace and punctuation differences between re-posts of the same
// notification collapse to one key. The hex form is safe as a remote
// document id.
func Key(sourceID, content string) string {
	var b strings.Builder
	for _, r := range content {
		if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' {
			b.WriteRune(r)
		}
	}
	sum := sha256.Sum256([]byte(sourceID + "|" + b.String()))
	return hex.EncodeToString(sum[:])
}

// DedupCache suppresses repeated keys inside a trailing window. State
// is in-memory only and resets with the process; cross-restart
// idempotence is the forwarder's upsert key, not this cache.
type DedupCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
	now    func() time.Time
}

func NewDedupCache(window time.Duration) *DedupCache {
	return &DedupCache{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Accept records key and returns true, unless the same key was accepted
// within the window. Check-then-record is a single critical section so
// concurrent capture callbacks cannot both accept one key.
func (c *DedupCache) Accept(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.window {
		return false
	}
	c.seen[key] = now
	return true
}

// Prune drops entries older than the window and returns how many were
// removed. Eviction is a memory bound, not a correctness requirement.
func (c *DedupCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, at := range c.seen {
		if now.Sub(at) >= c.window {
			delete(c.seen, key)
			n++
		}
	}
	return n
}

func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
