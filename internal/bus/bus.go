// Package bus is the in-process fan-out used for local message echo:
// it lets the sender's device update unread badges and previews
// immediately, without waiting for the server round trip.
package bus

import (
	"log/slog"
	"sync"

	v1 "github.com/jean-bernard-laguerre/skillly-sub000/contracts/chat/v1"
	"github.com/oklog/ulid/v2"
)

const defaultReplaySize = 16

// Handler receives a published event. Handlers run synchronously on
// the publisher's goroutine and must not block.
type Handler func(v1.GlobalEvent)

// Bus fans events out to current subscribers, at most once per Publish.
// A bounded replay ring lets late subscribers catch up on recent
// events; there is no queue beyond that.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[string]Handler // event type -> sub id -> handler
	replay []v1.GlobalEvent
	max    int
}

// Option configures a Bus.
type Option func(*Bus)

// WithReplaySize bounds the replay ring (default 16; 0 disables replay).
func WithReplaySize(n int) Option {
	return func(b *Bus) {
		if n >= 0 {
			b.max = n
		}
	}
}

// New constructs a Bus.
func New(log *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:  log,
		subs: make(map[string]map[string]Handler),
		max:  defaultReplaySize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Publish delivers event to every handler currently subscribed to its
// type and records it in the replay ring. A handler not subscribed at
// publish time never receives the event later, except through replay.
func (b *Bus) Publish(event v1.GlobalEvent) {
	b.mu.Lock()
	if b.max > 0 {
		b.replay = append(b.replay, event)
		if len(b.replay) > b.max {
			b.replay = b.replay[len(b.replay)-b.max:]
		}
	}
	handlers := make([]Handler, 0, len(b.subs[event.Type]))
	for _, h := range b.subs[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}

	b.log.Debug("bus.publish", "type", event.Type, "room_id", event.RoomID, "subscribers", len(handlers))
}

// Subscribe registers a handler for an event type and returns its
// unsubscribe function. Unsubscribe is idempotent.
func (b *Bus) Subscribe(eventType string, h Handler) func() {
	id := ulid.Make().String()

	b.mu.Lock()
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[string]Handler)
	}
	b.subs[eventType][id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[eventType], id)
		b.mu.Unlock()
	}
}

// Replay invokes h with the ring's events of the given type, oldest
// first. Callers subscribe first, then replay, to avoid gaps.
func (b *Bus) Replay(eventType string, h Handler) {
	b.mu.RLock()
	events := make([]v1.GlobalEvent, 0, len(b.replay))
	for _, e := range b.replay {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	b.mu.RUnlock()

	for _, e := range events {
		h(e)
	}
}
