// Package event implements a small synchronous pub/sub bus used to publish
// tool/capability start-end notifications as the RPC Bridge dispatches
// calls. Reconstructed fresh: the teacher's internal/runtime package paired
// an actor pool with an event bus for its own server-lifecycle notifications
// (upstream connect/disconnect, config reload), a much larger surface than
// this module needs; rather than adapt that file wholesale, this package
// keeps just the publish/subscribe idiom, narrowed to the handful of event
// types the RPC Bridge and Executor Facade actually emit.
package event

import "sync"

// Type names one of the events the bridge publishes.
type Type string

const (
	ToolStart       Type = "tool.start"
	ToolEnd         Type = "tool.end"
	CapabilityStart Type = "capability.start"
	CapabilityEnd   Type = "capability.end"
)

// Event is one published notification. Payload is typically a trace.Event.
type Event struct {
	Type    Type
	Payload interface{}
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine; a slow or misbehaving handler therefore adds
// latency to the call it was notified about, which is deliberate — this bus
// exists for observers (metrics, learning hand-off) that must see events in
// the exact order they occurred, not for fire-and-forget background work.
type Handler func(Event)

// Bus is a process-wide or per-execution fan-out point. The zero value is
// usable.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewBus returns a ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h to be called for every future Publish of t.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers == nil {
		b.handlers = make(map[Type][]Handler)
	}
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish fans e out to every handler subscribed to e.Type. A panicking
// handler is recovered and does not prevent the remaining handlers from
// running, nor does it propagate to the caller: a broken observer must
// never break execution.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { _ = recover() }()
			h(e)
		}()
	}
}
