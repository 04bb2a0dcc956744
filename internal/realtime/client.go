package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/oggyb/blind-match/internal/metrics"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
)

const (
	defaultSendQueueSize = 64
	wsWriteTimeout       = 5 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = 30 * time.Second
	maxFrameSize         = 16 << 10
)

// MessageHandler receives one inbound frame.
type MessageHandler func(raw []byte)

// CloseHandler runs once after the read and write loops have stopped.
type CloseHandler func()

// Client wraps one websocket connection.
//   - send buffers outbound frames so publishers never block on the network;
//   - done is the shared stop signal for both loops;
//   - once makes Close idempotent.
type Client struct {
	id      string
	userID  uint64
	conn    *websocket.Conn
	limiter *rate.Limiter

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewClient wraps conn for userID. limiter throttles send-message frames
// and may be nil.
func NewClient(conn *websocket.Conn, userID uint64, queueSize int, limiter *rate.Limiter) *Client {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Client{
		id:      uuid.NewString(),
		userID:  userID,
		conn:    conn,
		limiter: limiter,
		send:    make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
}

// ID is unique per connection, across instances.
func (c *Client) ID() string { return c.id }

func (c *Client) UserID() uint64 { return c.userID }

// Allow reports whether the connection may send another chat message now.
func (c *Client) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Enqueue queues a raw frame for writing.
// Returns false when the connection is closed or its queue is full; the
// frame is dropped in that case.
func (c *Client) Enqueue(msg []byte) bool {
	if len(msg) == 0 {
		return true
	}
	cloned := append([]byte(nil), msg...)
	select {
	case <-c.done:
		return false
	case c.send <- cloned:
		return true
	default:
		return false
	}
}

// Send queues an envelope addressed to this connection only.
func (c *Client) Send(env protocol.Envelope) bool {
	ok := c.Enqueue(env.Bytes())
	if ok {
		metrics.WSEvents.WithLabelValues("out", env.Type).Inc()
	}
	return ok
}

// Run starts the write loop and blocks in the read loop.
// On return the connection is closed and onClose has run.
func (c *Client) Run(ctx context.Context, onMessage MessageHandler, onClose CloseHandler) {
	defer func() {
		c.Close()
		if onClose != nil {
			onClose()
		}
	}()

	go c.writeLoop(ctx)
	c.readLoop(ctx, onMessage)
}

// Close stops both loops and closes the socket.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readLoop(ctx context.Context, onMessage MessageHandler) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// any frame proves liveness, not only pongs
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if onMessage != nil {
			onMessage(raw)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
