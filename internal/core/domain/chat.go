package domain

import (
	"strings"
	"time"

	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

// MaxContentLength bounds a single chat message body.
const MaxContentLength = 4000

// ChatEvent is the wire payload for one chat message. The author assigns the
// event ID; receivers deduplicate by it since delivery is at-least-once.
// Durability is the Persistence Service's job - the relay has no obligation
// to retain the event after fan-out.
type ChatEvent struct {
	ID            string    `json:"id,omitempty"`
	SenderID      string    `json:"sender_id"`
	SenderRole    Role      `json:"sender_role"`
	SenderName    string    `json:"sender_name"`
	RecipientID   string    `json:"recipient_id"`
	RecipientRole Role      `json:"recipient_role,omitempty"`
	TicketID      string    `json:"ticket_id,omitempty"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks the structural requirements for relaying the event.
func (e *ChatEvent) Validate() error {
	if strings.TrimSpace(e.RecipientID) == "" {
		return apperrors.ErrRecipientRequired
	}
	if strings.TrimSpace(e.Content) == "" {
		return apperrors.ErrContentRequired
	}
	if len(e.Content) > MaxContentLength {
		return apperrors.ErrContentTooLong
	}
	return nil
}

// TypingSignal is the inbound fire-and-forget typing notification. It is
// ephemeral and never persisted; clients enforce the ~2s display expiry.
type TypingSignal struct {
	TicketID string `json:"ticketId"`
}

func (t *TypingSignal) Validate() error {
	if strings.TrimSpace(t.TicketID) == "" {
		return apperrors.ErrTicketIDRequired
	}
	return nil
}

// ReadReceipt is the inbound mark-as-read notification. Either TicketID or
// SenderID must be present so the receipt can be routed to a real room; the
// message-id-keyed routing of the original protocol is not supported.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	TicketID  string `json:"ticketId,omitempty"`
	SenderID  string `json:"senderId,omitempty"`
}

func (r *ReadReceipt) Validate() error {
	if strings.TrimSpace(r.MessageID) == "" {
		return apperrors.ErrMessageIDRequired
	}
	if strings.TrimSpace(r.TicketID) == "" && strings.TrimSpace(r.SenderID) == "" {
		return apperrors.ErrReceiptUnroutable
	}
	return nil
}

// RelayFrame is the envelope exchanged between relay instances over the
// backplane. InstanceID guards against re-ingesting our own publications.
type RelayFrame struct {
	InstanceID string   `json:"instance_id"`
	Rooms      []RoomID `json:"rooms"`
	Event      Event    `json:"event"`
}
