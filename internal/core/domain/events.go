package domain

// EventType defines the type of real-time event delivered to clients.
type EventType string

const (
	EventConnected   EventType = "connected"
	EventMessage     EventType = "message"
	EventTyping      EventType = "typing"
	EventMessageRead EventType = "message_read"
	EventAck         EventType = "ack"
	EventPong        EventType = "pong"
)

// Event is the payload sent over the WebSocket. The relay only moves it; it
// holds no durable copy after delivery.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ConnectedPayload confirms a registered session to its client.
type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// AckPayload acknowledges a send_message frame. Success means the event was
// handed to the router, not that any peer received it.
type AckPayload struct {
	EventID string `json:"eventId,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TypingPayload is broadcast to a ticket room when a participant is typing.
// It carries no expiry; receiving clients clear the indicator locally.
type TypingPayload struct {
	UserID   string `json:"userId"`
	TicketID string `json:"ticketId"`
}

// ReadPayload notifies a room that a message has been read. The relay does
// not own the read state of record, it only notifies.
type ReadPayload struct {
	MessageID string   `json:"messageId"`
	ReadBy    []string `json:"readBy"`
}
