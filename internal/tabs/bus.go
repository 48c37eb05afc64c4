package tabs

import (
	"sync"
)

// Bus fans lifecycle events out to subscribers. Handlers run
// synchronously on the publishing goroutine, in subscription order;
// subscribers that need isolation dispatch to their own goroutines.
type Bus struct {
	mu       sync.RWMutex
	handlers []func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all future events.
func (b *Bus) Subscribe(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers evt to every subscriber. The handler list is
// snapshotted under the lock and invoked outside it, so a handler may
// publish follow-up events without deadlocking.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}
