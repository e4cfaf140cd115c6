package conn

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"
)

// Transport is one duplex message stream. Implementations must allow
// concurrent Close with a blocked ReadMessage; writes are serialized by the
// session owning the transport.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes an outbound transport to a remote peer.
type Dialer func(ctx context.Context) (Transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

// NewWebsocketTransport wraps an established websocket connection.
func NewWebsocketTransport(conn *websocket.Conn) Transport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// WebsocketDialer dials the given ws:// or wss:// URL.
func WebsocketDialer(url string) Dialer {
	return func(ctx context.Context) (Transport, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", url, err)
		}
		return NewWebsocketTransport(conn), nil
	}
}
