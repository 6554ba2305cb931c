package ipc

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/yllada/datagate-shell/common"
)

// EngineEvent is a typed notification delivered to the subscriber.
type EngineEvent interface {
	Kind() string
}

// EventLog is a log line produced by the engine.
type EventLog struct{ Line string }

// EventStateChanged reports a new engine session state.
type EventStateChanged struct{ State string }

// EventConnected reports that the tunnel is up.
type EventConnected struct{ VpnIPv4 string }

// EventDisconnected reports that the tunnel went down.
type EventDisconnected struct{ Reason string }

// EventError is an engine-side error notification.
type EventError struct{ Code, Message string }

// EventOther carries an event type this shell does not know.
type EventOther struct {
	RawType string
	Payload json.RawMessage
}

// EventEngineExited is raised when an owned engine process exits.
type EventEngineExited struct {
	ExitCode int
	Err      error
}

// EventTransportClosed is raised when the connection to the engine is lost.
type EventTransportClosed struct{ Err error }

func (EventLog) Kind() string             { return EventTypeLog }
func (EventStateChanged) Kind() string    { return EventTypeStateChanged }
func (EventConnected) Kind() string       { return EventTypeConnected }
func (EventDisconnected) Kind() string    { return EventTypeDisconnected }
func (EventError) Kind() string           { return EventTypeError }
func (e EventOther) Kind() string         { return e.RawType }
func (EventEngineExited) Kind() string    { return "EngineExited" }
func (EventTransportClosed) Kind() string { return "TransportClosed" }

// MapEvent converts a wire event into its typed form. Type names match
// case-insensitively. It returns false for events that carry nothing,
// such as a Log without a line.
func MapEvent(ev Event) (EngineEvent, bool) {
	typ := strings.TrimSpace(ev.Type)
	if typ == "" {
		return nil, false
	}
	fields := payloadFields(ev.Payload)

	switch {
	case strings.EqualFold(typ, EventTypeLog):
		line := strings.TrimSpace(fields.get("line"))
		if line == "" {
			return nil, false
		}
		return EventLog{Line: line}, true
	case strings.EqualFold(typ, EventTypeStateChanged):
		return EventStateChanged{State: fields.get("state")}, true
	case strings.EqualFold(typ, EventTypeConnected):
		return EventConnected{VpnIPv4: fields.get("vpnIpv4")}, true
	case strings.EqualFold(typ, EventTypeDisconnected):
		return EventDisconnected{Reason: fields.get("reason")}, true
	case strings.EqualFold(typ, EventTypeError):
		return EventError{Code: fields.get("code"), Message: fields.get("message")}, true
	default:
		return EventOther{RawType: typ, Payload: ev.Payload}, true
	}
}

type fieldSet map[string]json.RawMessage

func payloadFields(payload json.RawMessage) fieldSet {
	if isNull(payload) {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	return fields
}

func (f fieldSet) get(name string) string {
	if raw, ok := f[name]; ok {
		return looseString(raw)
	}
	for key, raw := range f {
		if strings.EqualFold(key, name) {
			return looseString(raw)
		}
	}
	return ""
}

// DefaultEventQueue is the capacity of the dispatcher's queue.
const DefaultEventQueue = 256

// Dispatcher delivers typed events to a single subscriber in the order
// they were dispatched. Subscribing twice is an error, which keeps
// re-attach cycles from stacking duplicate consumers.
type Dispatcher struct {
	mu         sync.Mutex
	queue      chan EngineEvent
	stop       chan struct{}
	subscribed bool
	closed     bool
	stopOnce   sync.Once
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultEventQueue
	}
	return &Dispatcher{
		queue: make(chan EngineEvent, capacity),
		stop:  make(chan struct{}),
	}
}

// Subscribe returns the event channel. It is closed by Close.
func (d *Dispatcher) Subscribe() (<-chan EngineEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscribed {
		return nil, common.ErrAlreadySubscribed
	}
	d.subscribed = true
	return d.queue, nil
}

// Dispatch queues ev for the subscriber. Events dispatched before anyone
// subscribed, or after Close, are dropped. When the queue is full Dispatch
// waits for the subscriber, so no event is lost while it keeps reading.
func (d *Dispatcher) Dispatch(ev EngineEvent) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.subscribed || d.closed {
		return false
	}
	select {
	case d.queue <- ev:
		return true
	case <-d.stop:
		return false
	}
}

// Close stops delivery and closes the subscriber channel.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() { close(d.stop) })

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}
