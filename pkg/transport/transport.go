// Package transport implements the reliable framed messaging layer: a
// websocket-backed client transport with reconnect/heartbeat/queueing,
// and a same-process broadcast variant for same-origin tabs. Both
// share internal/wire's envelope format. The websocket variant uses the
// same nhooyr.io/websocket read/write and context-scoped deadline
// handling as pkg/hub's server-side connections; the broadcast variant
// uses no socket at all.
package transport

import (
	"sync"
	"time"

	"github.com/loomroom/loom/internal/wire"
)

// EventKind identifies the kind of event delivered to an On handler:
// connect, disconnect, message, error, or reconnecting.
type EventKind string

const (
	EventConnect      EventKind = "connect"
	EventDisconnect   EventKind = "disconnect"
	EventMessage      EventKind = "message"
	EventError        EventKind = "error"
	EventReconnecting EventKind = "reconnecting"
)

// Event is delivered to On handlers.
type Event struct {
	Kind     EventKind
	Envelope wire.Envelope // set for EventMessage
	Err      error         // set for EventError and EventDisconnect (reason)
	Attempt  int           // set for EventReconnecting
}

// Handler receives transport events.
type Handler func(Event)

// Unsubscribe cancels a handler registration.
type Unsubscribe func()

// Transport is the contract every variant implements.
type Transport interface {
	Connect() error
	Disconnect()
	Send(msgType wire.MsgType, payload interface{}) error
	On(kind EventKind, h Handler) Unsubscribe
	IsConnected() bool
}

// Options configures timing and identity shared by all variants.
type Options struct {
	RoomID   string
	ClientID string

	// PingInterval is the heartbeat period. Default 30s.
	PingInterval time.Duration
	// ReconnectDelay is the base exponential-backoff delay. Default 1s.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds reconnection; 0 means unlimited.
	MaxReconnectAttempts int
	// MessageQueueSize bounds the outbound FIFO while disconnected.
	// Default 100.
	MessageQueueSize int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 1 * time.Second
	}
	if o.MessageQueueSize <= 0 {
		o.MessageQueueSize = 100
	}
	return o
}

// dispatcher is the handler-registry shared by both Transport
// implementations.
type dispatcher struct {
	mu       sync.Mutex
	handlers map[EventKind][]Handler
}

func newDispatcher() *dispatcher {
	return &dispatcher{handlers: make(map[EventKind][]Handler)}
}

func (d *dispatcher) on(kind EventKind, h Handler) Unsubscribe {
	d.mu.Lock()
	d.handlers[kind] = append(d.handlers[kind], h)
	idx := len(d.handlers[kind]) - 1
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.handlers[kind][idx] = nil
	}
}

func (d *dispatcher) fire(ev Event) {
	d.mu.Lock()
	fns := append([]Handler{}, d.handlers[ev.Kind]...)
	d.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(ev)
		}
	}
}
