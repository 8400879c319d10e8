package domain

import "strings"

// RoomID identifies a logical broadcast group. Rooms are keyed either by a
// user identity (self-room, used for direct addressing) or by a ticket
// identity (conversation-scoped broadcast). The prefixes keep the two
// namespaces from colliding.
type RoomID string

const (
	userRoomPrefix   = "user:"
	ticketRoomPrefix = "ticket:"
)

// UserRoom returns the self-room for a user identity.
func UserRoom(userID string) RoomID {
	return RoomID(userRoomPrefix + userID)
}

// TicketRoom returns the broadcast room for a ticket.
func TicketRoom(ticketID string) RoomID {
	return RoomID(ticketRoomPrefix + ticketID)
}

// IsTicketRoom reports whether the room is ticket-scoped.
func (r RoomID) IsTicketRoom() bool {
	return strings.HasPrefix(string(r), ticketRoomPrefix)
}

// TicketID returns the ticket identity for a ticket room, or "" otherwise.
func (r RoomID) TicketID() string {
	if !r.IsTicketRoom() {
		return ""
	}
	return strings.TrimPrefix(string(r), ticketRoomPrefix)
}
