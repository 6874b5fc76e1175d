package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Reenniizz/StartupMatch-sub003/internal/protocol"
)

// Transport is one duplex connection instance. Replaced wholesale on every
// reconnect; Close from any goroutine unblocks a pending ReadEvent.
type Transport interface {
	WriteEvent(eventType protocol.EventType, payload any) error
	ReadEvent() (protocol.Envelope, error)
	Close() error
}

// Dialer opens a fresh Transport. Injected so tests can run a Session
// against an in-memory peer.
type Dialer func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWebsocket is the production dialer.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) WriteEvent(eventType protocol.EventType, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ReadEvent() (protocol.Envelope, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.Decode(data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
