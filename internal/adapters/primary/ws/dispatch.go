package ws

import (
	"encoding/json"
	"errors"

	"github.com/canteo/chat-relay/internal/core/domain"
	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

// FrameType enumerates the inbound frame kinds. The set is closed: adding a
// kind means extending the dispatch switch below, which stays exhaustive.
type FrameType string

const (
	FrameSendMessage       FrameType = "send_message"
	FrameTypingStatus      FrameType = "typing_status"
	FrameMarkAsRead        FrameType = "mark_as_read"
	FrameSubscribeTicket   FrameType = "subscribe_ticket"
	FrameUnsubscribeTicket FrameType = "unsubscribe_ticket"
	FramePing              FrameType = "ping"
)

// InboundFrame is the envelope for frames sent by the client.
type InboundFrame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TicketPayload is the payload for subscribe/unsubscribe frames.
type TicketPayload struct {
	TicketID string `json:"ticketId"`
}

// handleFrame dispatches one inbound frame. Errors local to one frame never
// tear down the session: invalid sends are acked as failures, other invalid
// frames are logged and dropped.
func (c *Client) handleFrame(message []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Warn("failed to unmarshal client frame", "error", err)
		return
	}

	switch frame.Type {
	case FrameSendMessage:
		c.handleSendMessage(frame.Payload)

	case FrameTypingStatus:
		c.handleTypingStatus(frame.Payload)

	case FrameMarkAsRead:
		c.handleMarkAsRead(frame.Payload)

	case FrameSubscribeTicket:
		c.handleSubscribe(frame.Payload)

	case FrameUnsubscribeTicket:
		c.handleUnsubscribe(frame.Payload)

	case FramePing:
		// Client-side keep-alive on top of protocol pings.
		c.Enqueue(domain.Event{Type: domain.EventPong})

	default:
		c.logger.Debug("received unknown frame type", "type", frame.Type)
	}
}

// handleSendMessage relays a chat message and acks the attempt. Success
// means the event was handed to the router - the relay never waits for
// remote delivery confirmation.
func (c *Client) handleSendMessage(payload json.RawMessage) {
	var ev domain.ChatEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.ack("", false, "malformed send_message payload")
		return
	}

	if _, err := c.relay.SendMessage(c, &ev); err != nil {
		c.ack(ev.ID, false, err.Error())
		return
	}
	c.ack(ev.ID, true, "")
}

func (c *Client) handleTypingStatus(payload json.RawMessage) {
	var sig domain.TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		c.logger.Warn("failed to unmarshal typing payload", "error", err)
		return
	}

	if _, err := c.relay.SignalTyping(c, &sig); err != nil {
		c.logger.Warn("typing signal rejected", "error", err)
	}
}

func (c *Client) handleMarkAsRead(payload json.RawMessage) {
	var receipt domain.ReadReceipt
	if err := json.Unmarshal(payload, &receipt); err != nil {
		c.logger.Warn("failed to unmarshal read receipt payload", "error", err)
		return
	}

	if _, err := c.relay.MarkRead(c, &receipt); err != nil {
		c.logger.Warn("read receipt rejected",
			"error", err,
			"message_id", receipt.MessageID,
		)
	}
}

func (c *Client) handleSubscribe(payload json.RawMessage) {
	var p TicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal subscribe payload", "error", err)
		return
	}

	if err := c.relay.JoinTicket(c, p.TicketID); err != nil {
		if errors.Is(err, apperrors.ErrForbiddenRoom) {
			c.logger.Warn("ticket subscription refused",
				"ticket_id", p.TicketID,
				"role", c.session.Role,
			)
		} else {
			c.logger.Warn("invalid subscribe request", "error", err)
		}
	}
}

func (c *Client) handleUnsubscribe(payload json.RawMessage) {
	var p TicketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("failed to unmarshal unsubscribe payload", "error", err)
		return
	}

	c.relay.LeaveTicket(c, p.TicketID)
}

func (c *Client) ack(eventID string, success bool, errMsg string) {
	c.Enqueue(domain.Event{
		Type: domain.EventAck,
		Payload: domain.AckPayload{
			EventID: eventID,
			Success: success,
			Error:   errMsg,
		},
	})
}
