package protocol

// ConnectPayload is the handshake sent as the first event on a transport.
// Credentials ride in the handshake itself so no unauthenticated event can be
// processed before the server has accepted or rejected the identity.
type ConnectPayload struct {
	UserID    string `json:"userId"`
	AuthToken string `json:"authToken"`
}

// ConnectAckPayload confirms the handshake. TransportID is opaque and
// reassigned on every reconnect.
type ConnectAckPayload struct {
	TransportID string `json:"transportId"`
	ServerTime  int64  `json:"serverTime"` // unix milliseconds
}

// ConnectErrorPayload rejects the handshake. The transport is closed right
// after this event is written.
type ConnectErrorPayload struct {
	Reason string `json:"reason"`
}

// JoinPayload requests membership in a room. For join-user the room id is the
// user id and the kind is personal.
type JoinPayload struct {
	RoomID   string   `json:"roomId"`
	RoomKind RoomKind `json:"roomKind"`
}

type JoinSuccessPayload struct {
	RoomID string `json:"roomId"`
}

type JoinErrorPayload struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

// SendMessagePayload carries an outbound message. TempID is the
// client-generated correlation id echoed back in the ack or error.
type SendMessagePayload struct {
	RoomID string `json:"roomId"`
	TempID string `json:"tempId"`
	Body   string `json:"body"`
}

type MessageAckPayload struct {
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
}

type MessageErrorPayload struct {
	TempID string `json:"tempId"`
	Reason string `json:"reason"`
}

// NewMessagePayload fans a delivered message out to room members.
type NewMessagePayload struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	Body      string `json:"body"`
	SentAt    int64  `json:"sentAt"` // unix milliseconds
}

// PingPayload carries the sender's clock; the echoed timestamp is how the
// receiver of the pong computes round-trip latency.
type PingPayload struct {
	Timestamp int64 `json:"timestamp"` // unix milliseconds
}

type PongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
}

type UserTypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UsersOnlinePayload is the presence snapshot sent once per successful
// join-user so a client never has to reconstruct presence from increments.
type UsersOnlinePayload struct {
	UserIDs []string `json:"userIds"`
}

type UserPresencePayload struct {
	UserID string `json:"userId"`
}
