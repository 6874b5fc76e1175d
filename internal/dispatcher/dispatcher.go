// Package dispatcher is the server-side room and presence core shared by all
// client connections: one presence registry, one room multiplexer, one
// typing tracker per process.
package dispatcher

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Reenniizz/StartupMatch-sub003/internal/connection"
	"github.com/Reenniizz/StartupMatch-sub003/internal/directory"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

// MessageSink hands a message to the persistence collaborator and returns
// its durable id. Persistence itself is out of scope here.
type MessageSink interface {
	Deliver(roomID, senderID, body string) (messageID string, err error)
}

// UUIDMessageSink mints durable ids locally so the server runs standalone.
type UUIDMessageSink struct{}

func (UUIDMessageSink) Deliver(roomID, senderID, body string) (string, error) {
	return uuid.NewString(), nil
}

// JoinAuthorizer asks the persistence/authorization collaborator whether the
// user may join the room. Membership checks beyond this live upstream.
type JoinAuthorizer interface {
	Authorize(userID, roomID string, kind protocol.RoomKind) error
}

// AllowAllAuthorizer accepts every join. The production deployment plugs in
// the persistence-backed check.
type AllowAllAuthorizer struct{}

func (AllowAllAuthorizer) Authorize(userID, roomID string, kind protocol.RoomKind) error {
	return nil
}

type Dispatcher struct {
	presence  *PresenceRegistry
	rooms     *RoomMultiplexer
	typing    *TypingTracker
	dir       *directory.Directory
	sender    connection.EventSender
	sink      MessageSink
	authorize JoinAuthorizer
}

type Options struct {
	TypingTTL time.Duration
	Directory *directory.Directory
	Sender    connection.EventSender
	Sink      MessageSink
	Auth      JoinAuthorizer
}

func New(opts Options) *Dispatcher {
	if opts.TypingTTL == 0 {
		opts.TypingTTL = 3 * time.Second
	}
	if opts.Sender == nil {
		opts.Sender = connection.NewEventSender()
	}
	if opts.Sink == nil {
		opts.Sink = UUIDMessageSink{}
	}
	if opts.Auth == nil {
		opts.Auth = AllowAllAuthorizer{}
	}
	if opts.Directory == nil {
		opts.Directory = directory.New(directory.NewMemoryStore())
	}

	d := &Dispatcher{
		presence:  NewPresenceRegistry(),
		rooms:     NewRoomMultiplexer(),
		dir:       opts.Directory,
		sender:    opts.Sender,
		sink:      opts.Sink,
		authorize: opts.Auth,
	}
	d.typing = NewTypingTracker(opts.TypingTTL, d.typingExpired)
	return d
}

// HandleJoinUser joins the personal room, registers presence and sends the
// online snapshot back to the joining transport. Presence counts personal
// room memberships, one per transport: a repeated join-user on the same
// transport contributes nothing, so the count stays in step with the number
// of live devices.
func (d *Dispatcher) HandleJoinUser(transportID, userID string) {
	if d.rooms.Join(userID, protocol.RoomPersonal, transportID) {
		if _, err := d.dir.MarkConnected(userID, transportID, time.Now()); err != nil {
			logger.WarnF("[%s] Fail to record session for user %s, details: %v", transportID, userID, err)
		}

		if d.presence.Join(userID) {
			d.broadcastPresence(protocol.EventUserOnline, userID, transportID)
		}
	}

	d.reply(transportID, protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: userID})
	d.reply(transportID, protocol.EventUsersOnline, protocol.UsersOnlinePayload{UserIDs: d.presence.Online()})
}

// HandleJoinConversation joins a direct or group room after the authorizer
// accepts. A duplicate join is a silent success.
func (d *Dispatcher) HandleJoinConversation(transportID, userID string, payload protocol.JoinPayload) {
	if payload.RoomID == "" || !payload.RoomKind.Valid() || payload.RoomKind == protocol.RoomPersonal {
		d.reply(transportID, protocol.EventJoinError, protocol.JoinErrorPayload{
			RoomID: payload.RoomID,
			Reason: fmt.Sprintf("invalid room %q (%s)", payload.RoomID, payload.RoomKind),
		})
		return
	}

	if err := d.authorize.Authorize(userID, payload.RoomID, payload.RoomKind); err != nil {
		logger.InfoF("[%s] Join denied for user %s on room %s: %v", transportID, userID, payload.RoomID, err)
		d.reply(transportID, protocol.EventJoinError, protocol.JoinErrorPayload{
			RoomID: payload.RoomID,
			Reason: err.Error(),
		})
		return
	}

	d.rooms.Join(payload.RoomID, payload.RoomKind, transportID)
	d.reply(transportID, protocol.EventJoinSuccess, protocol.JoinSuccessPayload{RoomID: payload.RoomID})
}

// HandleLeaveConversation removes exactly one membership.
func (d *Dispatcher) HandleLeaveConversation(transportID string, payload protocol.JoinPayload) {
	d.rooms.Leave(payload.RoomID, transportID)
}

// HandleSendMessage delivers to the sink, acknowledges the sender by tempId
// and fans the durable message out to the room.
func (d *Dispatcher) HandleSendMessage(transportID, userID string, payload protocol.SendMessagePayload) {
	if !d.rooms.IsMember(payload.RoomID, transportID) {
		d.reply(transportID, protocol.EventMessageError, protocol.MessageErrorPayload{
			TempID: payload.TempID,
			Reason: "not a member of room " + payload.RoomID,
		})
		return
	}

	messageID, err := d.sink.Deliver(payload.RoomID, userID, payload.Body)
	if err != nil {
		logger.ErrorF("[%s] Fail to deliver message %s, details: %v", transportID, payload.TempID, err)
		d.reply(transportID, protocol.EventMessageError, protocol.MessageErrorPayload{
			TempID: payload.TempID,
			Reason: err.Error(),
		})
		return
	}

	d.reply(transportID, protocol.EventMessageAck, protocol.MessageAckPayload{
		TempID:    payload.TempID,
		MessageID: messageID,
	})

	d.rooms.Broadcast(d.sender, payload.RoomID, protocol.EventNewMessage, protocol.NewMessagePayload{
		RoomID:    payload.RoomID,
		MessageID: messageID,
		SenderID:  userID,
		Body:      payload.Body,
		SentAt:    time.Now().UnixMilli(),
	}, transportID)
}

// HandleTypingStart sets or refreshes the flag and broadcasts the indicator.
func (d *Dispatcher) HandleTypingStart(transportID, userID, roomID string) {
	if !d.rooms.IsMember(roomID, transportID) {
		return
	}
	d.typing.Start(roomID, userID, transportID)
	d.rooms.Broadcast(d.sender, roomID, protocol.EventUserTyping, protocol.UserTypingPayload{
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: true,
	}, transportID)
}

// HandleTypingStop clears the flag; the tracker callback broadcasts false.
func (d *Dispatcher) HandleTypingStop(transportID, userID, roomID string) {
	if !d.rooms.IsMember(roomID, transportID) {
		return
	}
	d.typing.Stop(roomID, userID)
}

// HandlePing answers with the echoed timestamp and refreshes last-seen.
func (d *Dispatcher) HandlePing(transportID, userID string, payload protocol.PingPayload) {
	d.reply(transportID, protocol.EventHeartbeatPong, protocol.PongPayload{
		Timestamp:  payload.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
	if err := d.dir.Touch(userID, time.Now()); err != nil {
		logger.WarnF("[%s] Fail to touch session for user %s, details: %v", transportID, userID, err)
	}
}

// HandleDisconnect tears down everything the transport held: memberships,
// typing flags, presence contribution, directory device count. Only a
// transport that holds the personal room gives up a presence reference; a
// connection that dropped before join-user never contributed one, so it must
// not take another device's reference with it.
func (d *Dispatcher) HandleDisconnect(transportID, userID string) {
	hadPersonal := userID != "" && d.rooms.IsMember(userID, transportID)
	d.rooms.LeaveAll(transportID)
	if userID == "" {
		return
	}

	d.typing.StopAllForUser(userID)

	if !hadPersonal {
		return
	}

	if d.presence.Leave(userID) {
		d.broadcastPresence(protocol.EventUserOffline, userID, transportID)
	}

	if _, err := d.dir.MarkDisconnected(userID, time.Now()); err != nil {
		logger.WarnF("[%s] Fail to record disconnect for user %s, details: %v", transportID, userID, err)
	}
}

// OnlineUsers exposes the presence snapshot.
func (d *Dispatcher) OnlineUsers() []string {
	return d.presence.Online()
}

// typingExpired mirrors the explicit-start broadcast: the typist's own
// transport set the flag, so it is excluded here too.
func (d *Dispatcher) typingExpired(roomID, userID, transportID string) {
	d.rooms.Broadcast(d.sender, roomID, protocol.EventUserTyping, protocol.UserTypingPayload{
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: false,
	}, transportID)
}

// broadcastPresence notifies every connected client except the transport
// that caused the transition. Completing join-user subscribes a connection
// to presence, and every joined transport holds at least its personal room.
func (d *Dispatcher) broadcastPresence(eventType protocol.EventType, userID, exceptTransportID string) {
	payload := protocol.UserPresencePayload{UserID: userID}
	d.rooms.EachTransport(func(transportID string) bool {
		if transportID == exceptTransportID {
			return true
		}
		if err := d.sender.SendEvent(transportID, eventType, payload); err != nil {
			logger.WarnF("[%s] Fail to deliver %s, details: %v", transportID, eventType, err)
		}
		return true
	})
}

func (d *Dispatcher) reply(transportID string, eventType protocol.EventType, payload any) {
	if err := d.sender.SendEvent(transportID, eventType, payload); err != nil {
		logger.WarnF("[%s] Fail to reply %s, details: %v", transportID, eventType, err)
	}
}
