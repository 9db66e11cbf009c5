package hub

import (
	"sync"
	"time"

	"github.com/hupe1980/collabhub/core"
	"github.com/hupe1980/collabhub/logging"
)

// EventKind names the lifecycle points listeners can subscribe to.
type EventKind string

const (
	// EventSessionCreated fires after a collaboration session is persisted.
	EventSessionCreated EventKind = "session_created"
	// EventMessageRouted fires after each delivery attempt that resolved
	// recipients.
	EventMessageRouted EventKind = "message_routed"
	// EventSessionCompleted fires on session completion, including repeat
	// completion calls that left state unchanged.
	EventSessionCompleted EventKind = "session_completed"
	// EventAgentJoined fires when an agent joins a session.
	EventAgentJoined EventKind = "agent_joined"
	// EventAgentLeft fires when an agent leaves a session.
	EventAgentLeft EventKind = "agent_left"
	// EventSessionPaused fires on a lifecycle pause.
	EventSessionPaused EventKind = "session_paused"
	// EventSessionResumed fires on a lifecycle resume.
	EventSessionResumed EventKind = "session_resumed"
)

// Event carries the context of one lifecycle occurrence to listeners. Only
// the fields relevant to the kind are set.
type Event struct {
	Kind      EventKind
	SessionID string
	AgentID   string
	Reason    string
	Message   *core.Message
	Delivery  *core.DeliveryResult
	Timestamp time.Time
}

// Handler consumes events. Handlers run synchronously on the emitting
// goroutine; panics and long blocking both belong to the handler's owner,
// though panics are recovered and logged.
type Handler func(Event)

// dispatcher is the per-hub listener registry. Registration order is
// preserved per kind.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[EventKind][]Handler
	logger   logging.Logger
}

func newDispatcher(logger logging.Logger) *dispatcher {
	return &dispatcher{handlers: make(map[EventKind][]Handler), logger: logger}
}

func (d *dispatcher) on(kind EventKind, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// emit invokes every listener for the event's kind. Listener panics are
// recovered per listener so one misbehaving subscriber cannot starve the
// rest or the caller.
func (d *dispatcher) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[ev.Kind]...)
	d.mu.RUnlock()

	for _, h := range handlers {
		d.safeInvoke(ev, h)
	}
}

func (d *dispatcher) safeInvoke(ev Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event listener panicked", "event", string(ev.Kind), "panic", r)
		}
	}()
	h(ev)
}
