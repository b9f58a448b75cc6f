// Package channel contains the inbound bridges that deliver device
// notifications into the event bus. The pipeline is a pure consumer; it
// never knows how events actually arrive.
package channel

import (
	"context"

	"github.com/aimastermebjm-byte/azzahra-sync/internal/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type BaseChannel struct {
	name      string
	bus       *bus.EventBus
	allowFrom []string
}

func NewBaseChannel(name string, b *bus.EventBus, allowFrom []string) BaseChannel {
	return BaseChannel{name: name, bus: b, allowFrom: allowFrom}
}

func (c BaseChannel) Name() string {
	return c.name
}

// IsAllowed checks the sender allow-list; an empty list allows anyone.
func (c BaseChannel) IsAllowed(id string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	for _, allowed := range c.allowFrom {
		if allowed == id {
			return true
		}
	}
	return false
}
