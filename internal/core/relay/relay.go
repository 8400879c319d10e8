package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/canteo/chat-relay/internal/core/domain"
	apperrors "github.com/canteo/chat-relay/internal/core/errors"
	"github.com/canteo/chat-relay/internal/core/ports"
)

const backplanePublishTimeout = 2 * time.Second

// Relay is the in-memory core of the support chat service. It owns the
// session registry and room router, serializes session lifecycle through a
// single event loop, and holds no durable state: a restart loses everything
// and clients are expected to re-handshake and rejoin their rooms.
type Relay struct {
	registry *Registry
	router   *Router
	presence *Presence
	receipts *Receipts

	// Register requests from new connections
	Register chan ports.Subscriber

	// Unregister requests from closing connections
	Unregister chan ports.Subscriber

	// ingest receives frames from other relay instances
	ingest chan domain.RelayFrame

	authorizer ports.RoomAuthorizer
	backplane  ports.Backplane
	instanceID string
	metrics    *Metrics
	logger     *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithBackplane mirrors published events to a cross-instance backplane and
// fans in frames published by other instances.
func WithBackplane(bp ports.Backplane) Option {
	return func(r *Relay) { r.backplane = bp }
}

// WithAuthorizer overrides the default claims-based room authorizer.
func WithAuthorizer(a ports.RoomAuthorizer) Option {
	return func(r *Relay) { r.authorizer = a }
}

// WithMetrics attaches relay metrics instruments.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		registry:   NewRegistry(),
		Register:   make(chan ports.Subscriber),
		Unregister: make(chan ports.Subscriber),
		ingest:     make(chan domain.RelayFrame, 256),
		authorizer: ClaimsAuthorizer{},
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "relay"),
	}
	r.router = NewRouter(logger, r.Drop)
	r.presence = NewPresence(r.router, logger)
	r.receipts = NewReceipts(r.router, logger)

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the relay's lifecycle loop and, when configured, the backplane
// consumer. It returns when ctx is cancelled. This MUST be run as a goroutine.
func (r *Relay) Run(ctx context.Context) {
	if r.backplane != nil {
		go func() {
			if err := r.backplane.Start(ctx, r.enqueueFrame); err != nil && ctx.Err() == nil {
				r.logger.Error("backplane consumer stopped", "error", err)
			}
		}()
	}

	for {
		select {
		case sub := <-r.Register:
			r.registerSession(sub)

		case sub := <-r.Unregister:
			r.unregisterSession(sub)

		case frame := <-r.ingest:
			r.handleFrame(ctx, frame)

		case <-ctx.Done():
			return
		}
	}
}

// registerSession admits an authenticated connection: it is recorded in the
// registry, auto-joined to its self-room, and told its session ID.
func (r *Relay) registerSession(sub ports.Subscriber) {
	sess := sub.Session()

	r.registry.Add(sub)
	r.router.Join(sub, sess.SelfRoom())
	r.metrics.SessionOpened(context.Background())

	sub.Enqueue(domain.Event{
		Type: domain.EventConnected,
		Payload: domain.ConnectedPayload{
			SessionID: sess.ID.String(),
			UserID:    sess.UserID,
		},
	})

	r.logger.Info("session registered",
		"user_id", sess.UserID,
		"session_id", sess.ID,
		"role", sess.Role,
		"connections", len(r.registry.SessionsFor(sess.UserID)),
	)
}

// unregisterSession tears down a session's registry entry and every room
// membership. Idempotent: a session may be dropped both by its read pump and
// by the slow-consumer path.
func (r *Relay) unregisterSession(sub ports.Subscriber) {
	sess := sub.Session()

	if !r.registry.Remove(sub) {
		return
	}
	rooms := r.router.LeaveAll(sub)
	sub.CloseSend()
	r.metrics.SessionClosed(context.Background())

	r.logger.Info("session unregistered",
		"user_id", sess.UserID,
		"session_id", sess.ID,
		"rooms_left", len(rooms),
	)
}

// Drop schedules a session for unregistration without blocking the caller.
func (r *Relay) Drop(sub ports.Subscriber) {
	go func() { r.Unregister <- sub }()
}

// SendMessage relays a chat message. The sender fields of the event are
// always overwritten from the authenticated session, so a client cannot
// speak as someone else. The event goes to the recipient's self-room, the
// sender's self-room (multi-tab sync), and the ticket room when the message
// is ticket-scoped. The returned count is sessions reached; zero means the
// recipient is offline, which is not an error.
func (r *Relay) SendMessage(sub ports.Subscriber, ev *domain.ChatEvent) (int, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}

	sess := sub.Session()
	ev.SenderID = sess.UserID
	ev.SenderRole = sess.Role
	ev.SenderName = sess.Name
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	rooms := []domain.RoomID{domain.UserRoom(ev.RecipientID), sess.SelfRoom()}
	if ev.TicketID != "" {
		rooms = append(rooms, domain.TicketRoom(ev.TicketID))
	}

	event := domain.Event{Type: domain.EventMessage, Payload: ev}
	n := r.router.PublishMulti(rooms, event, nil)
	r.metrics.EventRelayed(context.Background(), domain.EventMessage, n)
	r.mirror(rooms, event)

	r.logger.Debug("message relayed",
		"event_id", ev.ID,
		"sender_id", ev.SenderID,
		"recipient_id", ev.RecipientID,
		"delivered", n,
	)
	return n, nil
}

// SignalTyping relays a typing indicator to the ticket room, excluding the
// emitting session. Fire-and-forget; the server applies no rate limiting and
// keeps no typing state.
func (r *Relay) SignalTyping(sub ports.Subscriber, sig *domain.TypingSignal) (int, error) {
	n, rooms, err := r.presence.Signal(sub, sig)
	if err != nil {
		return 0, err
	}
	r.metrics.EventRelayed(context.Background(), domain.EventTyping, n)
	r.mirror(rooms, domain.Event{
		Type:    domain.EventTyping,
		Payload: domain.TypingPayload{UserID: sub.Session().UserID, TicketID: sig.TicketID},
	})
	return n, nil
}

// MarkRead relays a read receipt to the room its correspondence is scoped
// to: the ticket room when known, otherwise the original sender's self-room.
func (r *Relay) MarkRead(sub ports.Subscriber, receipt *domain.ReadReceipt) (int, error) {
	n, rooms, event, err := r.receipts.Relay(sub.Session(), receipt)
	if err != nil {
		return 0, err
	}
	r.metrics.EventRelayed(context.Background(), domain.EventMessageRead, n)
	r.mirror(rooms, event)
	return n, nil
}

// JoinTicket subscribes a session to a ticket room after an authorization
// check against the session's claims.
func (r *Relay) JoinTicket(sub ports.Subscriber, ticketID string) error {
	if ticketID == "" {
		return apperrors.ErrTicketIDRequired
	}
	if !r.authorizer.CanJoinTicket(sub.Session(), ticketID) {
		return apperrors.ErrForbiddenRoom
	}
	r.router.Join(sub, domain.TicketRoom(ticketID))
	return nil
}

// LeaveTicket unsubscribes a session from a ticket room.
func (r *Relay) LeaveTicket(sub ports.Subscriber, ticketID string) {
	r.router.Leave(sub, domain.TicketRoom(ticketID))
}

// enqueueFrame hands a backplane frame to the lifecycle loop, dropping it if
// the loop is saturated rather than blocking the backplane consumer.
func (r *Relay) enqueueFrame(frame domain.RelayFrame) {
	select {
	case r.ingest <- frame:
	default:
		r.logger.Warn("ingest queue full, dropping backplane frame",
			"event_type", frame.Event.Type,
		)
	}
}

// handleFrame fans a foreign instance's event out to local sessions only.
// Frames this instance published are ignored to avoid loops.
func (r *Relay) handleFrame(ctx context.Context, frame domain.RelayFrame) {
	if frame.InstanceID == r.instanceID {
		return
	}
	n := r.router.PublishMulti(frame.Rooms, frame.Event, nil)
	r.metrics.EventRelayed(ctx, frame.Event.Type, n)
}

// mirror publishes a locally-originated event to the backplane, if any.
func (r *Relay) mirror(rooms []domain.RoomID, event domain.Event) {
	if r.backplane == nil {
		return
	}
	frame := domain.RelayFrame{InstanceID: r.instanceID, Rooms: rooms, Event: event}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backplanePublishTimeout)
		defer cancel()
		if err := r.backplane.Publish(ctx, frame); err != nil {
			r.logger.Warn("backplane publish failed", "error", err)
		}
	}()
}

// Stats describes the relay's live state for health checks and metrics.
type Stats struct {
	Sessions   int `json:"sessions"`
	Identities int `json:"identities"`
	Rooms      int `json:"rooms"`
}

func (r *Relay) Stats() Stats {
	return Stats{
		Sessions:   r.registry.Len(),
		Identities: r.registry.IdentityCount(),
		Rooms:      r.router.RoomCount(),
	}
}

// IsUserConnected checks if a user has any active sessions.
func (r *Relay) IsUserConnected(userID string) bool {
	return r.registry.IsConnected(userID)
}
