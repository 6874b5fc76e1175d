package session

import (
	"sync"
	"time"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
)

// Event is the domain event stream delivered to subscribers. Concrete types
// below; callers switch on them.
type Event interface {
	isEvent()
}

// StateChanged reports every lifecycle transition.
type StateChanged struct {
	State State
}

// MessageReceived carries a message fanned out to a joined room.
type MessageReceived struct {
	RoomID    string
	MessageID string
	SenderID  string
	Body      string
	SentAt    time.Time
}

// MessageResolved is the terminal outcome of one sendMessage. Err is empty
// when the message reached the server; MessageID then holds the durable id.
type MessageResolved struct {
	TempID    string
	MessageID string
	Err       string
}

// PresenceSnapshot is the full online-user list received after join-user.
type PresenceSnapshot struct {
	UserIDs []string
}

// PresenceChanged is an incremental online/offline transition.
type PresenceChanged struct {
	UserID string
	Online bool
}

// TypingChanged mirrors user-typing broadcasts.
type TypingChanged struct {
	RoomID   string
	UserID   string
	IsTyping bool
}

// HealthChanged reports the heartbeat verdict and the latest round trip.
type HealthChanged struct {
	Healthy bool
	Latency time.Duration
}

// ConnectionFailed is emitted once when reconnection attempts run out.
type ConnectionFailed struct {
	Attempts int
}

func (StateChanged) isEvent()     {}
func (MessageReceived) isEvent()  {}
func (MessageResolved) isEvent()  {}
func (PresenceSnapshot) isEvent() {}
func (PresenceChanged) isEvent()  {}
func (TypingChanged) isEvent()    {}
func (HealthChanged) isEvent()    {}
func (ConnectionFailed) isEvent() {}

// eventHub fans session events out to subscribers. Unsubscribing is
// deterministic so listeners cannot leak across reconnects.
type eventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func newEventHub(buffer int) *eventHub {
	if buffer <= 0 {
		buffer = 64
	}
	return &eventHub{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// subscribe returns the event channel and a cancel func that closes it.
func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if ch, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// emit never blocks the session loop; a subscriber that stopped draining
// loses events instead of stalling everyone.
func (h *eventHub) emit(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.WarnF("Event subscriber %d is full, dropping %T", id, ev)
		}
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
