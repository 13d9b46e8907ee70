package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientOutboxDepth = 256
	writeWait         = 5 * time.Second
)

// Close codes used by the router.
const (
	CloseTooManyConnections = websocket.ClosePolicyViolation
	CloseMatchmakingFailure = 4000
)

type outbound struct {
	data      []byte
	closeCode int
	reason    string
}

// client is one websocket, either a player or a registered backend.
type client struct {
	conn   *websocket.Conn
	remote string
	send   chan outbound
	done   chan struct{}

	closeOnce sync.Once

	mu      sync.RWMutex
	userID  string
	service string
}

func newClient(conn *websocket.Conn, remote string) *client {
	return &client{
		conn:   conn,
		remote: remote,
		send:   make(chan outbound, clientOutboxDepth),
		done:   make(chan struct{}),
	}
}

func (c *client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *client) setUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *client) Service() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.service
}

func (c *client) setService(service string) {
	c.mu.Lock()
	c.service = service
	c.mu.Unlock()
}

// enqueue queues a frame without blocking. A client that cannot keep up is closed.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- outbound{data: frame}:
		return true
	default:
		c.close()
		return false
	}
}

// closeAfterQueued sends a close frame once every queued frame has been written.
func (c *client) closeAfterQueued(code int, reason string) {
	select {
	case c.send <- outbound{closeCode: code, reason: reason}:
	default:
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump drains the outbox in order and keeps the socket alive with pings.
func (c *client) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.close()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if msg.closeCode != 0 {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.closeCode, msg.reason))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return
			}
		case <-tick:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
