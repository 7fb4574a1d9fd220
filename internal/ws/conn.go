// Package ws exposes the realtime channel: one websocket per user,
// registered in the connection registry and fed by the chat service's
// fan-out.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait bounds a single socket write.
	writeWait = 10 * time.Second

	// pongWait is how long a connection may stay silent before the read
	// side gives up. Pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 8 << 10
	sendBufferSize = 64
)

var (
	// ErrConnClosed is returned by Send on a closed connection.
	ErrConnClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when the outbound buffer is full; the
	// payload is dropped rather than blocking the sender.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn wraps one websocket connection. It implements registry.Channel:
// Send enqueues an outbound payload, Close tears the connection down.
// All socket writes happen on the write pump.
type Conn struct {
	userID    string
	sock      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(userID string, sock *websocket.Conn) *Conn {
	return &Conn{
		userID: userID,
		sock:   sock,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Send marshals the payload and enqueues it for delivery. Non-blocking:
// a full buffer drops the payload with ErrSendBufferFull.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	select {
	case <-c.done:
		return ErrConnClosed
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close signals teardown. Idempotent; safe from any goroutine. The write
// pump notices and closes the underlying socket.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// writePump owns every write to the socket: queued payloads, keepalive
// pings, and the final close frame.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.sock.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
