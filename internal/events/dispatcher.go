package events

import (
	"context"
	"sync"
)

// EventHandler consumes a published event. Handlers own their errors;
// the dispatcher never propagates them back to the publisher.
type EventHandler func(context.Context, Event) error

// Dispatcher fans events out to subscribers. Delivery is best effort:
// the routing and SLA sweeps catch anything a lost event would have
// triggered, so publishers never block on or retry dispatch.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher delivers synchronously on the publisher's
// goroutine, within a single process.
type inMemoryDispatcher struct {
	mu   sync.RWMutex
	subs map[EventType][]EventHandler
}

// NewInMemoryDispatcher builds an empty dispatcher.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		subs: make(map[EventType][]EventHandler),
	}
}

// Publish invokes every subscriber for the event's type, in
// subscription order. A failing subscriber does not stop the rest.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	subs := append([]EventHandler{}, d.subs[event.Type]...)
	d.mu.RUnlock()

	for _, deliver := range subs {
		_ = deliver(ctx, event)
	}
	return nil
}

// Subscribe registers a handler for one event type. Subscriptions are
// wired at boot; there is no unsubscribe.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs[eventType] = append(d.subs[eventType], handler)
}
