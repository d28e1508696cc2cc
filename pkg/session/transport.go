package session

import (
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the duplex message channel to one observer. Framing is the
// transport layer's concern; sessions only see whole messages.
//
// Send and Receive may be called from different goroutines, but there is
// at most one concurrent caller of each. Close may be called concurrently
// with both and more than once.
type Transport interface {
	// Send writes one message to the observer.
	Send(data []byte) error

	// Receive blocks until the observer sends a message or the
	// transport closes. A non-nil error means the connection is gone.
	Receive() ([]byte, error)

	// Close tears down the underlying connection.
	Close() error
}

// DefaultWriteTimeout bounds a single WebSocket write. A write that
// cannot complete within it counts as a send failure and drops the
// connection.
const DefaultWriteTimeout = 10 * time.Second

// wsTransport adapts a gorilla WebSocket connection to Transport.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebSocketTransport wraps an upgraded WebSocket connection.
func NewWebSocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn, writeTimeout: DefaultWriteTimeout}
}

func (t *wsTransport) Send(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Compile-time interface satisfaction check.
var _ Transport = (*wsTransport)(nil)
