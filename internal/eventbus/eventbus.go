// Package eventbus is the engine's in-process publish/subscribe fan-out
// (component L).
//
// The teacher publishes domain events through ctx.EventManager().EmitEvent,
// Cosmos ABCI plumbing that only ever gets read back out of the block
// result - there is no in-process subscriber API because nothing outside
// the chain consumes it directly. This engine has no block context, and
// spec section 4.4/4.9 require synchronous, FIFO, best-effort delivery to
// real subscribers (the mark-price oracle publishes before returning
// control to its caller), so Bus implements that contract directly.
package eventbus

import (
	"sync"

	"cosmossdk.io/log"
)

// Event is a single published message.
type Event struct {
	Topic   string
	Payload interface{}
}

// Handler processes one event. A handler that panics is recovered and
// logged; it never stops delivery to the remaining handlers on that topic
// (spec section 4.9: "best-effort").
type Handler func(Event)

// Bus is a synchronous, FIFO-per-topic, best-effort publish/subscribe
// fan-out.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   log.Logger
}

// New creates an empty Bus.
func New(logger log.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("module", "eventbus"),
	}
}

// Subscribe registers handler to be invoked, in registration order, for
// every event published on topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

// Publish delivers payload to every subscriber of topic, synchronously,
// in subscription order. A handler's panic is caught and logged; it does
// not prevent later handlers on the same topic from running and does not
// propagate to the caller, so a misbehaving subscriber can never corrupt
// engine state that already committed before Publish was called.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, h := range hs {
		b.dispatch(h, ev)
	}
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ev)
}
