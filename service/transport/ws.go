package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"CordProject/logger"

	"github.com/gorilla/websocket"
)

const (
	readLimit     = 1 << 23 // 8MB, READY payloads for large bots are big
	writeDeadline = 10 * time.Second
)

var dialer = websocket.Dialer{
	Proxy:            nil,
	HandshakeTimeout: 30 * time.Second,
	ReadBufferSize:   4096,
	WriteBufferSize:  4096,
}

// WSConn wraps one full-duplex gateway socket. Reads happen from a single
// goroutine; writes are serialized by an internal mutex so the heartbeat
// timer and the command path can share the connection.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// DialWS opens a WebSocket to url. The caller appends the query string
// (?v=N&encoding=json) before calling.
func DialWS(ctx context.Context, url string) (*WSConn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return &WSConn{conn: conn}, nil
}

// ReadRaw blocks for the next text/binary frame and returns it verbatim.
// Control frames are handled by gorilla internally; a peer close frame
// surfaces as *websocket.CloseError with the close code intact.
func (c *WSConn) ReadRaw() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// WriteJSON marshals v and writes it as one text frame under deadline.
func (c *WSConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Close sends a close frame with the given code, then tears the socket down.
func (c *WSConn) Close(code int, reason string) error {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeDeadline))
	c.writeMu.Unlock()
	if err != nil {
		logger.Debugf("[transport] close frame write failed: %v", err)
	}
	return c.conn.Close()
}

// Kill tears the socket down without a close frame.
func (c *WSConn) Kill() error {
	return c.conn.Close()
}

// CloseCode extracts the peer's close code from a read error.
// ok is false when err is not a close frame (network drop, local close).
func CloseCode(err error) (code int, ok bool) {
	if ce, isClose := err.(*websocket.CloseError); isClose {
		return ce.Code, true
	}
	return 0, false
}
