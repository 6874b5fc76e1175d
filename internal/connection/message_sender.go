package connection

import (
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

// EventSender delivers one event to one transport. The dispatcher depends on
// this interface so tests can capture traffic without sockets.
type EventSender interface {
	SendEvent(transportID string, eventType protocol.EventType, payload any) error
}

// DefaultEventSender resolves transports through the shared Manager.
type DefaultEventSender struct{}

func NewEventSender() EventSender {
	return &DefaultEventSender{}
}

// SendEvent is a no-op when the transport is already gone; a member
// disconnecting mid-broadcast is not an error.
func (s *DefaultEventSender) SendEvent(transportID string, eventType protocol.EventType, payload any) error {
	conn, ok := GetManager().Get(transportID)
	if !ok {
		return nil
	}
	return conn.Send(eventType, payload)
}
