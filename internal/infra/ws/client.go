package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deepmindneural/escuchodromo-sub002/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192

	sendBuffer    = 64
	inboundBuffer = 16
)

// Compile-time check
var _ realtime.Sender = (*client)(nil)

// client owns one websocket connection: a buffered outbound queue drained
// by writePump, and a sequential inbound queue so messages from this
// connection enter the pipeline in the order they were sent.
type client struct {
	id   string
	conn *websocket.Conn

	send    chan []byte
	inbound chan InboundEvent

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		inbound: make(chan InboundEvent, inboundBuffer),
		done:    make(chan struct{}),
	}
}

// Send enqueues a payload without blocking. False means the connection is
// gone or saturated; the caller drops the payload (best-effort delivery).
func (c *client) Send(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) sendEvent(ev realtime.Event) bool {
	payload, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	return c.Send(payload)
}

// close is idempotent; the first caller wins and later ones are no-ops.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writePump drains the outbound queue and keeps the connection alive with
// pings. One writer per connection: gorilla allows a single concurrent
// writer.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
