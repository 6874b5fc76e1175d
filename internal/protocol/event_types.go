// Package protocol defines the wire event vocabulary exchanged between the
// realtime client session and the server dispatcher.
package protocol

// EventType identifies a wire event carried in an Envelope.
type EventType string

// Wire event type constants. The connect handshake pair must be the first
// exchange on every transport; everything else is rejected until it completes.
const (
	EventConnect      EventType = "connect"       // client presents credentials
	EventConnectAck   EventType = "connect-ack"   // server accepts, assigns transport id
	EventConnectError EventType = "connect-error" // server rejects handshake

	EventJoinUser          EventType = "join-user"          // join personal room, subscribe presence
	EventJoinConversation  EventType = "join-conversation"  // join a direct or group room
	EventLeaveConversation EventType = "leave-conversation" // drop one room membership
	EventJoinSuccess       EventType = "join-success"
	EventJoinError         EventType = "join-error"

	EventSendMessage  EventType = "send-message"
	EventMessageAck   EventType = "message-ack"
	EventMessageError EventType = "message-error"
	EventNewMessage   EventType = "new-message" // fan-out to room members

	EventHeartbeatPing EventType = "heartbeat-ping"
	EventHeartbeatPong EventType = "heartbeat-pong"

	EventTypingStart EventType = "typing-start"
	EventTypingStop  EventType = "typing-stop"
	EventUserTyping  EventType = "user-typing"

	EventUsersOnline EventType = "users-online" // full snapshot, once per join-user
	EventUserOnline  EventType = "user-online"
	EventUserOffline EventType = "user-offline"
)

// eventTypeNames maps every known EventType to itself, doubling as the set of
// types the decoder accepts.
var eventTypeNames = map[EventType]string{
	EventConnect:           "connect",
	EventConnectAck:        "connect-ack",
	EventConnectError:      "connect-error",
	EventJoinUser:          "join-user",
	EventJoinConversation:  "join-conversation",
	EventLeaveConversation: "leave-conversation",
	EventJoinSuccess:       "join-success",
	EventJoinError:         "join-error",
	EventSendMessage:       "send-message",
	EventMessageAck:        "message-ack",
	EventMessageError:      "message-error",
	EventNewMessage:        "new-message",
	EventHeartbeatPing:     "heartbeat-ping",
	EventHeartbeatPong:     "heartbeat-pong",
	EventTypingStart:       "typing-start",
	EventTypingStop:        "typing-stop",
	EventUserTyping:        "user-typing",
	EventUsersOnline:       "users-online",
	EventUserOnline:        "user-online",
	EventUserOffline:       "user-offline",
}

// String returns the wire name of the event type.
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown(" + string(t) + ")"
}

// Known reports whether the event type is part of the protocol.
func (t EventType) Known() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// RoomKind classifies a room id.
type RoomKind string

const (
	RoomPersonal RoomKind = "personal" // one per user, presence anchor
	RoomDirect   RoomKind = "direct"   // 1:1 conversation
	RoomGroup    RoomKind = "group"    // group conversation
)

// Valid reports whether the kind is one of the three known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case RoomPersonal, RoomDirect, RoomGroup:
		return true
	}
	return false
}
