// Package eventbus is the in-process publish/subscribe hub that connects the
// backend to every live client connection.
//
// Two delivery paths exist. Topic handlers registered with Subscribe run
// synchronously inside Emit, in registration order. Listeners created with
// Listen receive every emitted event asynchronously through a bounded
// Subscription that drops its oldest pending event on overflow.
package eventbus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/relay/internal/model"
)

// DefaultCapacity is the per-listener buffer size used when New is given a
// non-positive capacity.
const DefaultCapacity = 100

// Handler reacts to events of the topic it was subscribed to.
type Handler interface {
	Handle(e model.Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(e model.Event) error

func (f HandlerFunc) Handle(e model.Event) error { return f(e) }

// Bus is safe for concurrent use. Construct one with New and share it by
// pointer.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	// fanMu serializes listener delivery so every listener sees the same order.
	fanMu     sync.Mutex
	listeners map[*Subscription]struct{}

	capacity int
	logger   *slog.Logger
}

// New creates a bus whose listeners buffer up to capacity events.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers:  make(map[string][]Handler),
		listeners: make(map[*Subscription]struct{}),
		capacity:  capacity,
		logger:    logger,
	}
}

// Subscribe registers h for events whose name equals topic exactly.
// Registering the same handler twice makes it run twice.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	b.handlers[topic] = append(b.handlers[topic], h)
	b.mu.Unlock()
	b.logger.Debug("eventbus: handler subscribed", "topic", topic)
}

// Emit runs the handlers for e.Name in order and then delivers e to every
// listener. Handler failures are logged and do not stop later handlers.
func (b *Bus) Emit(e model.Event) {
	b.mu.RLock()
	hs := b.handlers[e.Name]
	b.mu.RUnlock()

	for i, h := range hs {
		b.invoke(i, h, e)
	}

	b.fanMu.Lock()
	for sub := range b.listeners {
		sub.deliver(e)
	}
	b.fanMu.Unlock()
}

// EmitSimple emits a backend-sourced event with v marshaled as its payload.
func (b *Bus) EmitSimple(name string, v any) error {
	var payload json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("eventbus: marshal %s payload: %w", name, err)
		}
		payload = raw
	}
	e, err := model.NewEvent(name, payload, model.SourceBackend)
	if err != nil {
		return fmt.Errorf("eventbus: %w", err)
	}
	b.Emit(e)
	return nil
}

// Listen returns a new subscription that receives every event emitted from
// now on. The caller must Close it.
func (b *Bus) Listen() *Subscription {
	sub := &Subscription{
		ch:  make(chan model.Event, b.capacity),
		bus: b,
	}
	b.fanMu.Lock()
	b.listeners[sub] = struct{}{}
	b.fanMu.Unlock()
	return sub
}

// Listeners reports the number of live subscriptions.
func (b *Bus) Listeners() int {
	b.fanMu.Lock()
	defer b.fanMu.Unlock()
	return len(b.listeners)
}

func (b *Bus) invoke(i int, h Handler, e model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: handler panicked",
				"topic", e.Name, "handler", i, "event_id", e.ID, "panic", r)
		}
	}()
	if err := h.Handle(e); err != nil {
		b.logger.Error("eventbus: handler failed",
			"topic", e.Name, "handler", i, "event_id", e.ID, "err", err)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.fanMu.Lock()
	delete(b.listeners, sub)
	b.fanMu.Unlock()
}
