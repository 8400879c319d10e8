package domain

import "github.com/google/uuid"

// Session is one authenticated live connection. The identity is asserted at
// handshake and immutable for the session's lifetime; a session never
// outlives its transport connection. A single user can hold several sessions
// at once (multiple tabs/devices).
type Session struct {
	// ID is the transport-assigned, opaque session identifier.
	ID uuid.UUID

	// UserID is the authenticated identity.
	UserID string

	// Role of the identity.
	Role Role

	// Name is the display name shown to other participants.
	Name string

	// tickets lists the ticket identities an end user may join, taken from
	// the handshake claims. Support-side roles are not restricted by it.
	tickets map[string]bool
}

// NewSession creates a session for an authenticated connection.
func NewSession(userID string, role Role, name string, tickets []string) *Session {
	s := &Session{
		ID:     uuid.New(),
		UserID: userID,
		Role:   role,
		Name:   name,
	}
	if len(tickets) > 0 {
		s.tickets = make(map[string]bool, len(tickets))
		for _, t := range tickets {
			s.tickets[t] = true
		}
	}
	return s
}

// SelfRoom returns the room this session is auto-joined to at handshake.
func (s *Session) SelfRoom() RoomID {
	return UserRoom(s.UserID)
}

// CanAccessTicket reports whether the session's identity is authorized to be
// in the given ticket's room. Staff and admins may join any ticket; end users
// only tickets listed in their handshake claims.
func (s *Session) CanAccessTicket(ticketID string) bool {
	if s.Role.IsSupportSide() {
		return true
	}
	return s.tickets[ticketID]
}
