// Package client is a Go client for the chat relay. It maintains the
// WebSocket session, transparently reconnects after unexpected drops, and
// resubscribes the ticket rooms the caller had joined. The relay does not
// replay missed events, so a reconnect restores the subscriptions but not
// the gap.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/canteo/chat-relay/internal/core/domain"
)

// Status is the connection lifecycle state, reported through OnStatus.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// ErrClosed is returned by operations on a client after Close or after the
// reconnect budget is exhausted.
var ErrClosed = errors.New("client: connection closed")

// ErrAckTimeout is returned by SendMessage when the relay does not
// acknowledge the frame before the context expires.
var ErrAckTimeout = errors.New("client: timed out waiting for ack")

// Handlers receive relay events. All callbacks run on the read loop
// goroutine; slow handlers delay subsequent events.
type Handlers struct {
	OnMessage func(ev *domain.ChatEvent)
	OnTyping  func(p domain.TypingPayload)
	OnRead    func(p domain.ReadPayload)
	OnStatus  func(s Status)
}

// Config configures a relay client.
type Config struct {
	// URL is the relay websocket endpoint, e.g. "ws://host:8080/api/v1/ws".
	URL string

	// Token is the JWT presented during the handshake.
	Token string

	// MaxRetries bounds reconnection attempts after the immediate retry.
	// Zero means the default of 5.
	MaxRetries uint64

	// RetryInterval is the flat delay between reconnection attempts.
	// Zero means the default of 1s.
	RetryInterval time.Duration

	// TypingInterval gates how often a typing signal is emitted per ticket.
	// Zero means the default of 500ms.
	TypingInterval time.Duration

	Handlers Handlers

	Logger *slog.Logger

	now func() time.Time
}

// Client is a reconnecting relay connection. Safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	status  Status
	closed  bool
	tickets map[string]bool
	pending map[string]chan domain.AckPayload

	writeMu sync.Mutex

	seen *seenSet
	gate *emitGate

	done chan struct{}
}

// New creates a client. Call Connect to establish the session.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("client: URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("client: token is required")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.TypingInterval == 0 {
		cfg.TypingInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		status:  StatusConnecting,
		tickets: make(map[string]bool),
		pending: make(map[string]chan domain.AckPayload),
		seen:    newSeenSet(maxSeenEvents),
		gate:    newEmitGate(cfg.TypingInterval, cfg.now),
		done:    make(chan struct{}),
	}, nil
}

// Connect dials the relay and starts the read loop. It returns once the
// connection is established or the dial fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	c.mu.Unlock()

	c.notifyStatus(StatusConnected)
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid URL: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial failed: %w", err)
	}
	return conn, nil
}

// readLoop consumes events until the connection drops. An unexpected drop
// triggers reconnection; a client-initiated Close is terminal.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			c.logger.Warn("connection lost", "error", err)
			c.reconnect()
			return
		}
		c.dispatch(raw)
	}
}

// reconnect retries the dial with a flat interval. The first attempt runs
// immediately. Exhausting the budget transitions to the terminal
// Disconnected state.
func (c *Client) reconnect() {
	c.setStatus(StatusReconnecting)
	c.notifyStatus(StatusReconnecting)
	c.failPending("connection lost")

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.cfg.RetryInterval),
		c.cfg.MaxRetries,
	)

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return backoff.Permanent(ErrClosed)
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var dialErr error
		conn, dialErr = c.dial(ctx)
		return dialErr
	}, policy)

	if err != nil {
		c.logger.Error("reconnection failed, giving up", "error", err)
		c.shutdown()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	tickets := make([]string, 0, len(c.tickets))
	for t := range c.tickets {
		tickets = append(tickets, t)
	}
	c.mu.Unlock()

	c.notifyStatus(StatusConnected)

	// Room membership is per-session on the relay side; rejoin what the
	// caller had subscribed.
	for _, ticketID := range tickets {
		if err := c.writeFrame("subscribe_ticket", ticketPayload{TicketID: ticketID}); err != nil {
			c.logger.Warn("failed to resubscribe ticket", "ticket_id", ticketID, "error", err)
		}
	}

	go c.readLoop(conn)
}

type envelope struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

func (c *Client) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Warn("failed to decode event", "error", err)
		return
	}

	switch env.Type {
	case domain.EventConnected:
		var p domain.ConnectedPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			c.logger.Debug("session confirmed", "session_id", p.SessionID)
		}

	case domain.EventMessage:
		var ev domain.ChatEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			c.logger.Warn("failed to decode message event", "error", err)
			return
		}
		// Delivery is at-least-once; drop ids we have already seen.
		if ev.ID != "" && !c.seen.Add(ev.ID) {
			return
		}
		if c.cfg.Handlers.OnMessage != nil {
			c.cfg.Handlers.OnMessage(&ev)
		}

	case domain.EventTyping:
		var p domain.TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if c.cfg.Handlers.OnTyping != nil {
			c.cfg.Handlers.OnTyping(p)
		}

	case domain.EventMessageRead:
		var p domain.ReadPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if c.cfg.Handlers.OnRead != nil {
			c.cfg.Handlers.OnRead(p)
		}

	case domain.EventAck:
		var p domain.AckPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.resolvePending(p)

	case domain.EventPong:
		// Keep-alive response, nothing to do.

	default:
		c.logger.Debug("unknown event type", "type", env.Type)
	}
}

type frame struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type ticketPayload struct {
	TicketID string `json:"ticketId"`
}

func (c *Client) writeFrame(frameType string, payload interface{}) error {
	c.mu.Lock()
	conn := c.conn
	status := c.status
	c.mu.Unlock()

	if conn == nil || status != StatusConnected {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(frame{Type: frameType, Payload: payload})
}

// SendMessage relays a chat message and waits for the relay's ack. The event
// ID is assigned here if absent; the returned event carries it so callers can
// correlate the eventual echo.
func (c *Client) SendMessage(ctx context.Context, ev *domain.ChatEvent) (domain.AckPayload, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	ackCh := make(chan domain.AckPayload, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.AckPayload{}, ErrClosed
	}
	c.pending[ev.ID] = ackCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ev.ID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame("send_message", ev); err != nil {
		return domain.AckPayload{}, err
	}

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-ctx.Done():
		return domain.AckPayload{}, ErrAckTimeout
	case <-c.done:
		return domain.AckPayload{}, ErrClosed
	}
}

// SignalTyping emits a typing signal for the ticket, rate limited to one
// emission per TypingInterval per ticket. It reports whether a signal was
// actually sent.
func (c *Client) SignalTyping(ticketID string) (bool, error) {
	if !c.gate.Allow(ticketID) {
		return false, nil
	}
	if err := c.writeFrame("typing_status", domain.TypingSignal{TicketID: ticketID}); err != nil {
		return false, err
	}
	return true, nil
}

// MarkRead sends a read receipt. The receipt must name either the ticket or
// the original sender so the relay can route it.
func (c *Client) MarkRead(receipt *domain.ReadReceipt) error {
	return c.writeFrame("mark_as_read", receipt)
}

// Subscribe joins a ticket room. The subscription survives reconnects.
func (c *Client) Subscribe(ticketID string) error {
	c.mu.Lock()
	c.tickets[ticketID] = true
	c.mu.Unlock()
	return c.writeFrame("subscribe_ticket", ticketPayload{TicketID: ticketID})
}

// Unsubscribe leaves a ticket room.
func (c *Client) Unsubscribe(ticketID string) error {
	c.mu.Lock()
	delete(c.tickets, ticketID)
	c.mu.Unlock()
	return c.writeFrame("unsubscribe_ticket", ticketPayload{TicketID: ticketID})
}

// Close terminates the connection. The client does not reconnect after Close.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.status = StatusDisconnected
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	c.failPending("client closed")

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	}
	return nil
}

// Status returns the current lifecycle state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) notifyStatus(s Status) {
	if c.cfg.Handlers.OnStatus != nil {
		c.cfg.Handlers.OnStatus(s)
	}
}

func (c *Client) resolvePending(p domain.AckPayload) {
	c.mu.Lock()
	ch, ok := c.pending[p.EventID]
	c.mu.Unlock()
	if ok {
		select {
		case ch <- p:
		default:
		}
	}
}

func (c *Client) failPending(reason string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan domain.AckPayload)
	c.mu.Unlock()

	for id, ch := range pending {
		select {
		case ch <- domain.AckPayload{EventID: id, Success: false, Error: reason}:
		default:
		}
	}
}

// shutdown moves the client into the terminal Disconnected state after the
// reconnect budget is spent.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.status = StatusDisconnected
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	c.failPending("connection lost")
	c.notifyStatus(StatusDisconnected)
}
