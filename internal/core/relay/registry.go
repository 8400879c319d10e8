package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/canteo/chat-relay/internal/core/ports"
)

// Registry maps live connections to authenticated identities. A single user
// can hold multiple sessions at once (multiple tabs/devices), so identities
// map to session sets.
type Registry struct {
	mu sync.RWMutex

	// sessions maps session IDs to their subscriber handles
	sessions map[uuid.UUID]ports.Subscriber

	// identities maps user IDs to their active sessions
	identities map[string]map[ports.Subscriber]bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[uuid.UUID]ports.Subscriber),
		identities: make(map[string]map[ports.Subscriber]bool),
	}
}

// Add registers a subscriber under its session ID and identity.
func (r *Registry) Add(sub ports.Subscriber) {
	sess := sub.Session()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sess.ID] = sub
	if r.identities[sess.UserID] == nil {
		r.identities[sess.UserID] = make(map[ports.Subscriber]bool)
	}
	r.identities[sess.UserID][sub] = true
}

// Remove unregisters a subscriber. It reports whether the subscriber was
// still registered, so disconnect handling stays idempotent.
func (r *Registry) Remove(sub ports.Subscriber) bool {
	sess := sub.Session()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess.ID]; !ok {
		return false
	}
	delete(r.sessions, sess.ID)

	if set, ok := r.identities[sess.UserID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(r.identities, sess.UserID)
		}
	}
	return true
}

// SessionsFor returns all live sessions for a user identity.
func (r *Registry) SessionsFor(userID string) []ports.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.identities[userID]
	if !ok {
		return nil
	}
	subs := make([]ports.Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	return subs
}

// IsConnected checks if a user has any active sessions.
func (r *Registry) IsConnected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.identities[userID]
	return ok && len(set) > 0
}

// Len returns the total number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// IdentityCount returns the number of distinct connected identities.
func (r *Registry) IdentityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
