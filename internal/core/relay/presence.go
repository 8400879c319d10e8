package relay

import (
	"log/slog"

	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/ports"
)

// Presence broadcasts ephemeral typing state to ticket rooms. It keeps no
// per-sender timer bookkeeping: expiry is the receiving client's job, which
// clears each indicator a fixed interval after the last signal. Callers are
// expected to debounce their own emissions (~500ms per keystroke burst); the
// server does not rate limit typing signals.
type Presence struct {
	router *Router
	logger *slog.Logger
}

func NewPresence(router *Router, logger *slog.Logger) *Presence {
	return &Presence{
		router: router,
		logger: logger.With("component", "presence"),
	}
}

// Signal publishes a typing indicator to the ticket's room. The emitting
// session is excluded so a sender never sees their own indicator, while the
// sender's other tabs still do.
func (p *Presence) Signal(sub ports.Subscriber, sig *domain.TypingSignal) (int, []domain.RoomID, error) {
	if err := sig.Validate(); err != nil {
		return 0, nil, err
	}

	room := domain.TicketRoom(sig.TicketID)
	event := domain.Event{
		Type: domain.EventTyping,
		Payload: domain.TypingPayload{
			UserID:   sub.Session().UserID,
			TicketID: sig.TicketID,
		},
	}
	n := p.router.PublishExcept(room, event, sub)
	return n, []domain.RoomID{room}, nil
}
