package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Transport is the subset of *websocket.Conn a Connection drives. Close and
// WriteControl may be called concurrently with the other methods.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one live session of a user. Callers outside the hub only Send
// and Close; the transport stays private.
type Connection struct {
	id          string
	userID      string
	transport   Transport
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	connectedAt time.Time
	lastSeen    atomic.Int64 // unix nanos on clk
	clk         clock.Clock
	writeWait   time.Duration
	limiter     *rate.Limiter
}

func newConnection(t Transport, userID string, opts Options, clk clock.Clock) *Connection {
	limit := rate.Inf
	if opts.InboundRate > 0 {
		limit = rate.Limit(opts.InboundRate)
	}
	burst := opts.InboundBurst
	if burst <= 0 {
		burst = 1
	}

	now := clk.Now()
	c := &Connection{
		id:          uuid.NewString(),
		userID:      userID,
		transport:   t,
		send:        make(chan []byte, opts.SendBufferSize),
		done:        make(chan struct{}),
		connectedAt: now,
		clk:         clk,
		writeWait:   opts.WriteWait,
		limiter:     rate.NewLimiter(limit, burst),
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) UserID() string         { return c.userID }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// LastSeen is the last time the peer proved it was alive.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(c.clk.Now().UnixNano())
}

// Send queues env for this connection only.
func (c *Connection) Send(env Envelope) error {
	b, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return c.enqueue(b)
}

// enqueue never blocks: a closed connection or a full buffer is a delivery failure.
func (c *Connection) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close tears down the transport. Safe to call any number of times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}

// closeWithCode sends a close frame before tearing the connection down.
func (c *Connection) closeWithCode(code int, text string) {
	if !c.isClosed() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = c.transport.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait))
	}
	c.Close()
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) write(frame []byte) error {
	if err := c.transport.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.transport.WriteMessage(websocket.TextMessage, frame)
}

func (c *Connection) ping() error {
	if c.isClosed() {
		return ErrConnectionClosed
	}
	return c.transport.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

func (c *Connection) allowInbound() bool {
	return c.limiter.Allow()
}
