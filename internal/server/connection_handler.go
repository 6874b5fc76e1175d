package server

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Reenniizz/StartupMatch-sub003/internal/connection"
	"github.com/Reenniizz/StartupMatch-sub003/internal/dispatcher"
	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

const handshakeTimeout = time.Minute

// ConnectionHandler drives one client transport: handshake first, then the
// event loop with read deadlines keyed to the heartbeat interval.
type ConnectionHandler struct {
	conn        *websocket.Conn
	connID      string // remote address, for logs before the handshake
	transportID string
	userID      string
	transport   *connection.Connection
	dispatcher  *dispatcher.Dispatcher
	auth        Authenticator
	readTimeout time.Duration
}

func NewConnectionHandler(conn *websocket.Conn, d *dispatcher.Dispatcher, auth Authenticator, heartbeatInterval time.Duration) *ConnectionHandler {
	return &ConnectionHandler{
		conn:       conn,
		connID:     conn.RemoteAddr().String(),
		dispatcher: d,
		auth:       auth,
		// two missed heartbeats plus grace before the read side gives up
		readTimeout: 2*heartbeatInterval + 10*time.Second,
	}
}

func (c *ConnectionHandler) readEvent(deadline time.Duration) (protocol.Envelope, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(data)
}

// handleFirstEvent enforces the handshake contract: the first frame must be
// connect, and nothing else is processed until the identity is verified.
func (c *ConnectionHandler) handleFirstEvent() error {
	env, err := c.readEvent(handshakeTimeout)
	if err != nil {
		logger.WarnF("[%s] Fail to read first event, details: %v", c.connID, err)
		return err
	}

	if env.Type != protocol.EventConnect {
		logger.ErrorF("[%s] Invalid first event type, expected %s event, but got %s event", c.connID, protocol.EventConnect, env.Type)
		c.rejectHandshake("handshake required")
		return ErrAuthRejected
	}

	var payload protocol.ConnectPayload
	if err := env.Bind(&payload); err != nil {
		logger.ErrorF("[%s] Fail to parse connect event, details: %v", c.connID, err)
		c.rejectHandshake("malformed handshake")
		return err
	}

	if err := c.auth.Authenticate(payload.UserID, payload.AuthToken); err != nil {
		logger.WarnF("[%s] Handshake rejected for user %s", c.connID, payload.UserID)
		c.rejectHandshake("invalid credentials")
		return ErrAuthRejected
	}

	c.userID = payload.UserID
	c.transportID = uuid.NewString()
	c.transport = connection.NewConnection(c.transportID, c.userID, c.conn)
	connection.GetManager().Add(c.transport)

	if err := c.transport.Send(protocol.EventConnectAck, protocol.ConnectAckPayload{
		TransportID: c.transportID,
		ServerTime:  time.Now().UnixMilli(),
	}); err != nil {
		return err
	}

	logger.InfoF("[%s] Handshake accepted for user %s", c.transportID, c.userID)
	return nil
}

func (c *ConnectionHandler) rejectHandshake(reason string) {
	data := protocol.MustEncode(protocol.EventConnectError, protocol.ConnectErrorPayload{Reason: reason})
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *ConnectionHandler) handleEvents() {
	for {
		env, err := c.readEvent(c.readTimeout)
		if err != nil {
			handleReadError(c.transportID, err)
			return
		}

		logger.DebugF("[%s] Receive %s event", c.transportID, env.Type)

		switch env.Type {
		case protocol.EventConnect:
			logger.ErrorF("[%s] Duplicate connect event", c.transportID)
			return
		case protocol.EventJoinUser:
			c.dispatcher.HandleJoinUser(c.transportID, c.userID)
		case protocol.EventJoinConversation:
			var payload protocol.JoinPayload
			if err := env.Bind(&payload); err != nil {
				logger.ErrorF("[%s] Fail to parse join event, details: %v", c.transportID, err)
				continue
			}
			c.dispatcher.HandleJoinConversation(c.transportID, c.userID, payload)
		case protocol.EventLeaveConversation:
			var payload protocol.JoinPayload
			if err := env.Bind(&payload); err != nil {
				logger.ErrorF("[%s] Fail to parse leave event, details: %v", c.transportID, err)
				continue
			}
			c.dispatcher.HandleLeaveConversation(c.transportID, payload)
		case protocol.EventSendMessage:
			var payload protocol.SendMessagePayload
			if err := env.Bind(&payload); err != nil {
				logger.ErrorF("[%s] Fail to parse send-message event, details: %v", c.transportID, err)
				continue
			}
			c.dispatcher.HandleSendMessage(c.transportID, c.userID, payload)
		case protocol.EventTypingStart:
			var payload protocol.TypingPayload
			if err := env.Bind(&payload); err != nil {
				continue
			}
			c.dispatcher.HandleTypingStart(c.transportID, c.userID, payload.RoomID)
		case protocol.EventTypingStop:
			var payload protocol.TypingPayload
			if err := env.Bind(&payload); err != nil {
				continue
			}
			c.dispatcher.HandleTypingStop(c.transportID, c.userID, payload.RoomID)
		case protocol.EventHeartbeatPing:
			var payload protocol.PingPayload
			if err := env.Bind(&payload); err != nil {
				continue
			}
			c.dispatcher.HandlePing(c.transportID, c.userID, payload)
		case protocol.EventHeartbeatPong:
			// symmetric protocol: tolerated, liveness rides on read deadlines
		default:
			logger.WarnF("[%s] %s event has not been supported", c.transportID, env.Type)
		}
	}
}

func (c *ConnectionHandler) handleConnection() {
	defer func() {
		logger.DebugF("[%s] Connection closed", c.connID)
		if c.transportID != "" {
			c.dispatcher.HandleDisconnect(c.transportID, c.userID)
			connection.GetManager().Remove(c.transportID)
		}
		if err := c.conn.Close(); err != nil && !isNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.connID, err)
		}
	}()

	if err := c.handleFirstEvent(); err != nil {
		return
	}

	c.handleEvents()
}
