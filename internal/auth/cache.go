// Package auth gates forwarding on the authorization role of the
// current session. The role is fetched lazily and asynchronously from
// the remote store, cached per session identity, and never blocks the
// capture path: events seen while the role is unresolved are parked and
// replayed once the fetch completes.
package auth

import (
	"context"
	"log"
	"sync"
	"time"
)

type Role int

const (
	RoleUnknown Role = iota
	RoleOwner
	RoleOther
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleOther:
		return "other"
	default:
		return "unknown"
	}
}

type Decision int

const (
	Deny Decision = iota
	Allow
	Deferred
)

// FetchFunc resolves the role for a session identity.
type FetchFunc func(ctx context.Context, sessionID string) (Role, error)

const (
	// maxPending bounds parked replays; the oldest is dropped on overflow.
	maxPending   = 16
	fetchTimeout = 15 * time.Second
)

type RoleCache struct {
	session func() string
	fetch   FetchFunc

	mu        sync.Mutex
	sessionID string
	role      Role
	fetching  bool
	pending   []func()
}

// NewRoleCache builds a cache over a live session-identity provider and
// a role lookup. The provider is consulted fresh on every decision so a
// login/logout under the process invalidates the cached role.
func NewRoleCache(session func() string, fetch FetchFunc) *RoleCache {
	return &RoleCache{session: session, fetch: fetch}
}

// Session returns the current session identity.
func (c *RoleCache) Session() string {
	return c.session()
}

// Invalidate forgets the cached role. The next decision re-fetches.
func (c *RoleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = RoleUnknown
}

// Role returns the cached role for inspection.
func (c *RoleCache) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Decide resolves whether the current session may forward. When the
// role is still unknown it parks replay, triggers at most one in-flight
// fetch, and returns Deferred; replay is invoked after a successful
// fetch so the event re-enters this gate with the role resolved.
func (c *RoleCache) Decide(replay func()) Decision {
	sid := c.session()
	if sid == "" {
		return Deny
	}

	c.mu.Lock()
	if sid != c.sessionID {
		// Session identity changed: the cached role belongs to the old
		// account and must not leak across.
		c.sessionID = sid
		c.role = RoleUnknown
	}
	switch c.role {
	case RoleOwner:
		c.mu.Unlock()
		return Allow
	case RoleOther:
		c.mu.Unlock()
		return Deny
	}

	if replay != nil {
		if len(c.pending) >= maxPending {
			copy(c.pending, c.pending[1:])
			c.pending[len(c.pending)-1] = replay
		} else {
			c.pending = append(c.pending, replay)
		}
	}
	if !c.fetching {
		c.fetching = true
		go c.resolve(sid)
	}
	c.mu.Unlock()
	return Deferred
}

func (c *RoleCache) resolve(sid string) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	role, err := c.fetch(ctx, sid)

	c.mu.Lock()
	c.fetching = false
	if sid != c.sessionID {
		c.pending = nil
		c.mu.Unlock()
		log.Printf("[auth] discarding role fetch result for stale session")
		return
	}
	if err != nil {
		// Pending events are dropped as if denied, but the cache stays
		// Unknown so a later event retries the fetch.
		n := len(c.pending)
		c.pending = nil
		c.mu.Unlock()
		log.Printf("[auth] role fetch failed, dropping %d pending event(s): %v", n, err)
		return
	}
	c.role = role
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	log.Printf("[auth] role resolved for session %s: %s", sid, role)
	for _, fn := range pending {
		fn()
	}
}
