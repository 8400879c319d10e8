package ports

import (
	"context"

	"github.com/canteo/chat-relay/internal/core/domain"
)

// Subscriber is the outbound side of one live session as the router sees it.
// Implemented by the WebSocket adapter's client.
type Subscriber interface {
	// Session returns the immutable identity of this connection.
	Session() *domain.Session

	// Enqueue hands an event to the session's outbound queue. It must not
	// block; it returns false when the queue is full (slow consumer).
	Enqueue(event domain.Event) bool

	// CloseSend closes the outbound queue. Safe to call more than once.
	CloseSend()
}

// RoomAuthorizer decides whether a session may join a ticket room. The
// self-room invariant (identity == room id) is enforced by the relay itself.
type RoomAuthorizer interface {
	CanJoinTicket(session *domain.Session, ticketID string) bool
}

// Backplane fans events out across relay instances. The baseline deployment
// runs a single instance and uses no backplane at all.
type Backplane interface {
	// Publish sends a frame to every other relay instance.
	Publish(ctx context.Context, frame domain.RelayFrame) error

	// Start begins consuming frames, invoking handle for each one received,
	// until ctx is cancelled. Frames published by this instance are included;
	// the handler filters them by instance ID.
	Start(ctx context.Context, handle func(domain.RelayFrame)) error

	// Ping reports backplane connectivity for health checks.
	Ping(ctx context.Context) error

	Close() error
}
