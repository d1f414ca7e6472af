package authkit

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// EventKind names an auth-state transition published on the event bus.
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventSessionExpired EventKind = "SESSION_EXPIRED"
	EventMFARequired    EventKind = "MFA_REQUIRED"
)

// Listener receives auth-state transitions. The session is nil for
// SIGNED_OUT, SESSION_EXPIRED and MFA_REQUIRED; freshly built otherwise.
type Listener func(kind EventKind, session *Session)

// EventBus fans auth-state transitions out to subscribers, synchronously and
// in subscription order. Listeners are keyed by generated ULID handles since
// Go functions have no usable identity; the unsubscribe closure returned by
// Subscribe is the handle's only owner.
type EventBus struct {
	log *slog.Logger

	mu        sync.Mutex
	listeners map[string]Listener
	order     []string
}

// NewEventBus returns an empty bus. A nil logger silences it.
func NewEventBus(log *slog.Logger) *EventBus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &EventBus{
		log:       log,
		listeners: make(map[string]Listener),
	}
}

// Subscribe registers fn and returns an idempotent unsubscribe function.
func (b *EventBus) Subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle := ulid.Make().String()
	b.listeners[handle] = fn
	b.order = append(b.order, handle)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.listeners[handle]; !ok {
			return
		}
		delete(b.listeners, handle)
		for i, h := range b.order {
			if h == handle {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish invokes every listener with the event, in subscription order. A
// panicking listener is isolated so the rest still run and the publisher is
// never unwound.
func (b *EventBus) Publish(kind EventKind, session *Session) {
	b.mu.Lock()
	snapshot := make([]Listener, 0, len(b.order))
	for _, handle := range b.order {
		if fn, ok := b.listeners[handle]; ok {
			snapshot = append(snapshot, fn)
		}
	}
	b.mu.Unlock()

	b.log.Debug("publishing session event", "kind", string(kind), "listeners", len(snapshot))
	for _, fn := range snapshot {
		b.invoke(fn, kind, session)
	}
}

func (b *EventBus) invoke(fn Listener, kind EventKind, session *Session) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("session event listener panicked", "kind", string(kind), "panic", r)
		}
	}()
	fn(kind, session)
}

// Clear removes all listeners.
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = make(map[string]Listener)
	b.order = nil
}
