package connection

import (
	"context"
	"fmt"

	"nhooyr.io/websocket"
)

// Conn is the minimal duplex surface the manager needs from a transport.
// The production implementation wraps a WebSocket; tests use a fake.
type Conn interface {
	// Read blocks until a frame arrives or the context is cancelled.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Close tears the connection down.
	Close() error
}

// DialFunc establishes a new connection to the remote peer.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// wsConn adapts nhooyr.io/websocket to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	msgType, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if msgType != websocket.MessageText {
		// Binary frames are not part of the contract; surface them as empty
		// reads so the caller can skip them.
		return nil, nil
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// DialWebSocket is the default DialFunc.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	return &wsConn{conn: conn}, nil
}
