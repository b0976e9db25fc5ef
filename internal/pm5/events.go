package pm5

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EventType discriminates hub events.
type EventType string

const (
	EventGeneralStatus EventType = "general-status"
	EventWorkoutEnd    EventType = "workout-end"
	EventDisconnect    EventType = "disconnect"
)

// EventTypes lists every event type a session can deliver.
var EventTypes = []EventType{EventGeneralStatus, EventWorkoutEnd, EventDisconnect}

// ParseEventType validates an event type name.
func ParseEventType(s string) (EventType, error) {
	for _, t := range EventTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
}

// Event is one of LiveStatusEvent, WorkoutSummaryEvent or DisconnectEvent.
type Event interface {
	Type() EventType
}

// LiveStatusEvent carries a decoded general-status notification.
type LiveStatusEvent struct {
	Status LiveStatus
}

func (LiveStatusEvent) Type() EventType { return EventGeneralStatus }

// WorkoutSummaryEvent carries a decoded workout summary and the packet it came from.
type WorkoutSummaryEvent struct {
	Summary WorkoutSummary
	Raw     []byte
}

func (WorkoutSummaryEvent) Type() EventType { return EventWorkoutEnd }

// DisconnectEvent signals that the link is gone. It is the last event of a connection.
type DisconnectEvent struct {
	Address string
}

func (DisconnectEvent) Type() EventType { return EventDisconnect }

// Listener receives hub events. A returned error is reported to the hub's FaultSink.
type Listener func(Event) error

// FaultSink receives listener and decode failures.
type FaultSink func(t EventType, err error)

// Subscription identifies a hub registration.
type Subscription struct {
	Type EventType
	id   uint64
}

// Valid reports whether the subscription refers to a registration (it may since have been removed).
func (s Subscription) Valid() bool {
	return s.id != 0
}

// Hub is a typed publish/subscribe registry.
//
// Listeners run synchronously on the publishing goroutine, in subscription
// order. A failing or panicking listener is reported to the fault sink and
// does not prevent the remaining listeners from running.
type Hub struct {
	logger *logrus.Logger
	sink   FaultSink

	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventType]*orderedmap.OrderedMap[uint64, Listener]
}

// NewHub creates a hub. A nil sink logs faults at warning level.
func NewHub(logger *logrus.Logger, sink FaultSink) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		logger:    logger,
		sink:      sink,
		listeners: make(map[EventType]*orderedmap.OrderedMap[uint64, Listener]),
	}
}

// Subscribe registers listener for t.
func (h *Hub) Subscribe(t EventType, listener Listener) Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	table, ok := h.listeners[t]
	if !ok {
		table = orderedmap.New[uint64, Listener]()
		h.listeners[t] = table
	}
	table.Set(h.nextID, listener)
	return Subscription{Type: t, id: h.nextID}
}

// Unsubscribe removes a registration. Reports whether it was present.
func (h *Hub) Unsubscribe(s Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	table, ok := h.listeners[s.Type]
	if !ok {
		return false
	}
	_, present := table.Delete(s.id)
	if table.Len() == 0 {
		delete(h.listeners, s.Type)
	}
	return present
}

// ListenerCount returns the number of listeners registered for t.
func (h *Hub) ListenerCount(t EventType) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if table, ok := h.listeners[t]; ok {
		return table.Len()
	}
	return 0
}

// Publish dispatches e to the listeners registered for e.Type() at the time of the call.
// Returns the number of listeners invoked.
func (h *Hub) Publish(e Event) int {
	t := e.Type()

	h.mu.RLock()
	var snapshot []Listener
	if table, ok := h.listeners[t]; ok {
		snapshot = make([]Listener, 0, table.Len())
		for pair := table.Oldest(); pair != nil; pair = pair.Next() {
			snapshot = append(snapshot, pair.Value)
		}
	}
	h.mu.RUnlock()

	for _, l := range snapshot {
		if err := h.invoke(l, e); err != nil {
			h.Fault(t, err)
		}
	}
	return len(snapshot)
}

func (h *Hub) invoke(l Listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l(e)
}

// Fault reports err to the sink, or logs it when no sink is configured.
func (h *Hub) Fault(t EventType, err error) {
	if h.sink != nil {
		h.sink(t, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"event": t,
		"error": err,
	}).Warn("Event fault")
}
