package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/ports"
	"github.com/canteo/chat-relay/internal/core/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 8 * 1024

	// Outbound queue depth per session.
	sendQueueSize = 256
)

// Client is the gateway side of one live session: it pumps frames between
// the websocket connection and the relay. It implements ports.Subscriber.
type Client struct {
	relay *relay.Relay

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound events.
	send chan domain.Event

	// The authenticated session this connection carries.
	session *domain.Session

	// mu guards closed. The relay loop closes the queue while the read
	// pump may still be dispatching a frame for this session, so enqueue
	// and close must be mutually exclusive.
	mu     sync.Mutex
	closed bool

	logger *slog.Logger
}

var _ ports.Subscriber = (*Client)(nil)

// NewClient creates a gateway client for an authenticated, upgraded
// connection. The caller registers it with the relay and starts the pumps.
func NewClient(r *relay.Relay, conn *websocket.Conn, session *domain.Session, logger *slog.Logger) *Client {
	return &Client{
		relay:   r,
		conn:    conn,
		send:    make(chan domain.Event, sendQueueSize),
		session: session,
		logger: logger.With(
			"user_id", session.UserID,
			"session_id", session.ID.String(),
		),
	}
}

// Session returns the connection's authenticated identity.
func (c *Client) Session() *domain.Session {
	return c.session
}

// Enqueue queues an event for delivery without blocking. False means the
// queue is already closed, or the session is a slow consumer and will be
// dropped by the router.
func (c *Client) Enqueue(event domain.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// CloseSend closes the send channel. Safe to call more than once, and safe
// against concurrent Enqueue calls.
func (c *Client) CloseSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps frames from the websocket connection into the relay.
// This method runs in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.relay.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("failed to set read deadline", "error", err)
		return
	}

	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Error("failed to set read deadline in pong handler", "error", err)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			}
			break
		}

		c.handleFrame(message)
	}
}

// WritePump pumps events from the relay to the websocket connection.
// This method runs in its own goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline", "error", err)
				return
			}

			if !ok {
				// The relay closed the channel. Send close message.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					c.logger.Debug("failed to send close message", "error", err)
				}
				return
			}

			if err := c.writeJSON(event); err != nil {
				c.logger.Error("failed to write event", "error", err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error("failed to set write deadline for ping", "error", err)
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// writeJSON writes a JSON event to the websocket connection
func (c *Client) writeJSON(event domain.Event) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}

	if err := json.NewEncoder(w).Encode(event); err != nil {
		_ = w.Close()
		return err
	}

	return w.Close()
}
