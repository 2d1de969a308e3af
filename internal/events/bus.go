package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(event Event)

// queueSize bounds the number of undelivered events before Emit starts
// dropping. The UI and recorders drain far faster than a match produces.
const queueSize = 256

// Bus is an ordered publish-subscribe event queue. Emit never blocks the
// caller; a single dispatch goroutine delivers events to subscribers in
// emission order, so consumers such as the terminal UI observe state
// changes in the sequence the core produced them.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	queue    chan Event
	done     chan struct{}
	stopped  bool
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		handlers: make(map[EventType][]handlerEntry),
		queue:    make(chan Event, queueSize),
		done:     make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for an event type. The name is used for
// logging only. Handlers run on the dispatch goroutine and must not block.
func (b *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Emit enqueues an event for delivery. It never blocks; if the queue is
// full the event is dropped with a warning. The lock is held across the
// send so Stop cannot close the queue between the stopped check and the
// send.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return
	}

	select {
	case b.queue <- event:
	default:
		log.Warn().
			Str("event", string(event.Type)).
			Str("source", event.Source).
			Msg("event queue full, dropping event")
	}
}

// dispatch delivers queued events to subscribers in order.
func (b *Bus) dispatch() {
	defer close(b.done)

	for event := range b.queue {
		b.mu.RLock()
		handlers := b.handlers[event.Type]
		b.mu.RUnlock()

		for _, h := range handlers {
			b.deliver(h, event)
		}
	}
}

// deliver invokes one handler, containing any panic it raises.
func (b *Bus) deliver(h handlerEntry, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h.handler(event)
}

// Stop rejects further events and waits for the queue to drain. The queue
// is closed under the write lock, after which no emitter can be mid-send.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	b.mu.Unlock()

	<-b.done
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for an event type.
func (b *Bus) HandlerCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
