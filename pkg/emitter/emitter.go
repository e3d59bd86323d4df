// Package emitter is a small in-process publish/subscribe primitive.
//
// Handlers are invoked synchronously in registration order on the goroutine
// that calls Publish.
package emitter

import "sync"

// Handler receives events published on a channel.
type Handler[E any] func(E)

type subscription[E any] struct {
	id int
	fn Handler[E]
}

// Emitter fans events out to the handlers of a channel.
type Emitter[E any] struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string][]subscription[E]
}

// New creates an empty emitter.
func New[E any]() *Emitter[E] {
	return &Emitter[E]{handlers: make(map[string][]subscription[E])}
}

// Subscribe registers fn on channel. The returned function removes it and
// is safe to call more than once.
func (e *Emitter[E]) Subscribe(channel string, fn Handler[E]) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[channel] = append(e.handlers[channel], subscription[E]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(channel, id) })
	}
}

func (e *Emitter[E]) remove(channel string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.handlers[channel]
	for i, s := range subs {
		if s.id == id {
			e.handlers[channel] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.handlers[channel]) == 0 {
		delete(e.handlers, channel)
	}
}

// Publish calls every handler of channel with event.
func (e *Emitter[E]) Publish(channel string, event E) {
	e.mu.RLock()
	subs := e.handlers[channel]
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(event)
	}
}

// Count returns the number of handlers on channel.
func (e *Emitter[E]) Count(channel string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[channel])
}
