// Package connection tracks live websocket transports on the server and
// serializes writes to them.
package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Reenniizz/StartupMatch-sub003/internal/logger"
	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Connection is one live transport. TransportID is reassigned on every
// reconnect; UserID is fixed once the handshake succeeds.
type Connection struct {
	TransportID string
	UserID      string

	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewConnection(transportID, userID string, conn *websocket.Conn) *Connection {
	return &Connection{
		TransportID: transportID,
		UserID:      userID,
		conn:        conn,
	}
}

// Send writes one event frame. Gorilla allows a single concurrent writer, so
// all writers go through the mutex.
func (c *Connection) Send(eventType protocol.EventType, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(data)
}

func (c *Connection) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.ErrorF("[%s] Fail to send data, details: %v", c.TransportID, err)
		return err
	}
	logger.DebugF("[%s] Send %d bytes to client", c.TransportID, len(data))
	return nil
}

// Close sends a close frame and tears the transport down.
func (c *Connection) Close(code int, reason string) {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// Manager is the process-wide transport registry keyed by transport id.
type Manager struct {
	connections sync.Map
}

var (
	instance *Manager
	once     sync.Once
)

func GetManager() *Manager {
	once.Do(func() {
		instance = &Manager{}
	})
	return instance
}

func (cm *Manager) Add(conn *Connection) {
	cm.connections.Store(conn.TransportID, conn)
	logger.InfoF("[%s] Transport registered for user %s", conn.TransportID, conn.UserID)
}

func (cm *Manager) Remove(transportID string) {
	cm.connections.Delete(transportID)
	logger.InfoF("[%s] Transport removed", transportID)
}

func (cm *Manager) Get(transportID string) (*Connection, bool) {
	if value, ok := cm.connections.Load(transportID); ok {
		return value.(*Connection), true
	}
	return nil, false
}

// Range calls fn for every live transport until fn returns false.
func (cm *Manager) Range(fn func(conn *Connection) bool) {
	cm.connections.Range(func(_, value any) bool {
		return fn(value.(*Connection))
	})
}

// CloseAll is used during shutdown to send going-away frames.
func (cm *Manager) CloseAll() {
	cm.connections.Range(func(key, value any) bool {
		value.(*Connection).Close(websocket.CloseGoingAway, "server shutting down")
		cm.connections.Delete(key)
		return true
	})
}
