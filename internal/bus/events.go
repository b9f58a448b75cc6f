package bus

import "time"

// RawEvent is one device notification as delivered by a bridge channel.
// Ephemeral: nothing in this process persists it.
type RawEvent struct {
	SourceID string
	Title    string
	Body     string
	PostedAt time.Time
}

// EventBus carries raw events from the bridge channels to the gateway
// process loop. Channels publish, the gateway consumes.
type EventBus struct {
	Inbound chan RawEvent
}

func NewEventBus(bufSize int) *EventBus {
	return &EventBus{
		Inbound: make(chan RawEvent, bufSize),
	}
}

func (b *EventBus) Publish(ev RawEvent) {
	if ev.PostedAt.IsZero() {
		ev.PostedAt = time.Now()
	}
	b.Inbound <- ev
}

// PublishBacklog feeds a batch of outstanding events through the same
// per-event path. Used on startup/reconnect replay.
func (b *EventBus) PublishBacklog(evs []RawEvent) {
	for _, ev := range evs {
		b.Publish(ev)
	}
}
