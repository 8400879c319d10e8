package relay

import (
	"log/slog"

	"github.com/canteo/chat-relay/internal/core/domain"
)

// Receipts relays read notifications. The relay does not own the read state
// of record - it only notifies sessions that are interested in the message's
// correspondence.
//
// Routing: the ticket room when the receipt is ticket-scoped, otherwise the
// original sender's self-room. Earlier protocol revisions broadcast to a room
// keyed by the message ID itself, which nothing ever joins; that behavior is
// intentionally not supported and such receipts are rejected as unroutable.
type Receipts struct {
	router *Router
	logger *slog.Logger
}

func NewReceipts(router *Router, logger *slog.Logger) *Receipts {
	return &Receipts{
		router: router,
		logger: logger.With("component", "receipts"),
	}
}

// Relay publishes a message_read event for the reader.
func (rc *Receipts) Relay(reader *domain.Session, receipt *domain.ReadReceipt) (int, []domain.RoomID, domain.Event, error) {
	if err := receipt.Validate(); err != nil {
		return 0, nil, domain.Event{}, err
	}

	var room domain.RoomID
	if receipt.TicketID != "" {
		room = domain.TicketRoom(receipt.TicketID)
	} else {
		room = domain.UserRoom(receipt.SenderID)
	}

	event := domain.Event{
		Type: domain.EventMessageRead,
		Payload: domain.ReadPayload{
			MessageID: receipt.MessageID,
			ReadBy:    []string{reader.UserID},
		},
	}
	n := rc.router.Publish(room, event)

	rc.logger.Debug("read receipt relayed",
		"message_id", receipt.MessageID,
		"reader_id", reader.UserID,
		"room", room,
		"delivered", n,
	)
	return n, []domain.RoomID{room}, event, nil
}
