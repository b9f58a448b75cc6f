// Package diag is the human-readable diagnostic log: a bounded ring of
// recent entries plus a broadcast to any attached listener (webhook UI,
// tests). It is ephemeral and may drop entries if nobody listens.
package diag

import (
	"fmt"
	"log"
	"sync"
	"time"
)

type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

type Bus struct {
	mu   sync.Mutex
	ring []Entry
	max  int
	subs map[string]func(Entry)
}

func NewBus(ringSize int) *Bus {
	if ringSize <= 0 {
		ringSize = 1
	}
	return &Bus{
		max:  ringSize,
		subs: make(map[string]func(Entry)),
	}
}

func (b *Bus) Subscribe(name string, fn func(Entry)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = fn
}

func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, name)
}

// Logf records one diagnostic entry and broadcasts it. Never blocks the
// caller: listeners run on their own goroutine.
func (b *Bus) Logf(format string, args ...any) {
	e := Entry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(format, args...),
	}
	log.Printf("[diag] %s", e.Message)

	b.mu.Lock()
	b.ring = append(b.ring, e)
	if len(b.ring) > b.max {
		b.ring = b.ring[len(b.ring)-b.max:]
	}
	subs := make([]func(Entry), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		go fn(e)
	}
}

// Recent returns the ring contents, oldest first.
func (b *Bus) Recent() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, len(b.ring))
	copy(out, b.ring)
	return out
}
