package conversation

import (
	"context"
	"sync"

	"github.com/BaSui01/chatflow/agent/transcript"
)

// EventType names an event published by a conversation.
type EventType string

const (
	// EventMessage fires once per appended turn, seed included.
	EventMessage EventType = "message"
	// EventInterrupt fires when the run suspends awaiting Continue.
	EventInterrupt EventType = "interrupt"
)

// Event is the payload delivered to handlers.
type Event struct {
	Type           EventType
	ConversationID string
	// Turn is set for EventMessage.
	Turn transcript.Turn
	// Pending is set for EventInterrupt.
	Pending Pending
}

// Handler receives events synchronously on the engine's goroutine.
type Handler func(ctx context.Context, ev Event)

type subscription struct {
	id int
	fn Handler
}

// EventBus is a per-conversation publisher. Handlers run in registration order.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[EventType][]subscription
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[EventType][]subscription)}
}

// On registers h for t and returns a function that removes it.
func (b *EventBus) On(t EventType, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[t] = append(b.subs[t], subscription{id: id, fn: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

// Off removes every handler registered for t.
func (b *EventBus) Off(t EventType) {
	b.mu.Lock()
	delete(b.subs, t)
	b.mu.Unlock()
}

// Len returns the number of handlers for t.
func (b *EventBus) Len(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}

func (b *EventBus) remove(t EventType, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to the handlers registered at the time of the call.
// The lock is released before dispatch so handlers may subscribe or publish.
func (b *EventBus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(ctx, ev)
	}
}
