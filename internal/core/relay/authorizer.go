package relay

import (
	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/ports"
)

// ClaimsAuthorizer authorizes ticket-room joins from the session's handshake
// claims. The upstream auth service mints tokens listing the tickets an end
// user participates in, so the relay never has to consult the Persistence
// Service itself.
type ClaimsAuthorizer struct{}

var _ ports.RoomAuthorizer = ClaimsAuthorizer{}

func (ClaimsAuthorizer) CanJoinTicket(session *domain.Session, ticketID string) bool {
	return session.CanAccessTicket(ticketID)
}
