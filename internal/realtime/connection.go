package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astanek/livechat-relay/pkg/prefixed_uuid"
)

const (
	// sendBuffer bounds queued outbound frames per connection.
	sendBuffer = 64

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

// Connection wraps one websocket with a single-writer goroutine so
// concurrent fan-out never interleaves frames on the wire.
type Connection struct {
	id     string
	ws     *websocket.Conn
	sendCh chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded websocket and starts its write loop.
func NewConnection(ws *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:     prefixed_uuid.New("conn").String(),
		ws:     ws,
		sendCh: make(chan []byte, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.writeLoop()
	return c
}

// ID returns the opaque transport-level identifier of this connection.
func (c *Connection) ID() string { return c.id }

// writeLoop is the only goroutine allowed to write to the socket. It also
// drives the keepalive pings.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// SendEvent queues one envelope for delivery. It fails fast on a closed
// connection and times out instead of blocking the caller when the peer
// stops draining.
func (c *Connection) SendEvent(event string, payload any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := Encode(event, payload)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the write loop and closes the socket. Safe to call twice.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}
