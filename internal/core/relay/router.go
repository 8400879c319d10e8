package relay

import (
	"log/slog"
	"sync"

	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/ports"
)

// Router resolves a target room to the set of live sessions and fans events
// out to them. Rooms exist only as entries in the membership table: created
// on first join, garbage-collected when their session set empties. The relay
// does not queue for offline recipients - durability is the Persistence
// Service's job.
type Router struct {
	mu sync.RWMutex

	// rooms maps room IDs to subscribed sessions
	rooms map[domain.RoomID]map[ports.Subscriber]bool

	// joined maps each session to the rooms it is currently in, so
	// disconnect cleanup does not scan every room
	joined map[ports.Subscriber]map[domain.RoomID]bool

	// onSlow is invoked (outside the lock) for sessions whose outbound
	// queue was full during a fan-out
	onSlow func(ports.Subscriber)

	logger *slog.Logger
}

func NewRouter(logger *slog.Logger, onSlow func(ports.Subscriber)) *Router {
	if onSlow == nil {
		onSlow = func(ports.Subscriber) {}
	}
	return &Router{
		rooms:  make(map[domain.RoomID]map[ports.Subscriber]bool),
		joined: make(map[ports.Subscriber]map[domain.RoomID]bool),
		onSlow: onSlow,
		logger: logger.With("component", "room_router"),
	}
}

// Join adds a session to a room's membership set. Idempotent: joining a room
// the session is already in is a no-op.
func (r *Router) Join(sub ports.Subscriber, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[ports.Subscriber]bool)
	}
	if r.rooms[roomID][sub] {
		return
	}
	r.rooms[roomID][sub] = true

	if r.joined[sub] == nil {
		r.joined[sub] = make(map[domain.RoomID]bool)
	}
	r.joined[sub][roomID] = true

	r.logger.Debug("session joined room",
		"user_id", sub.Session().UserID,
		"room", roomID,
		"members", len(r.rooms[roomID]),
	)
}

// Leave removes a session from a room, dropping the room once empty.
func (r *Router) Leave(sub ports.Subscriber, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sub, roomID)
}

// LeaveAll removes a session from every room it belongs to, returning the
// rooms it was in. Invoked automatically on disconnect.
func (r *Router) LeaveAll(sub ports.Subscriber) []domain.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]domain.RoomID, 0, len(r.joined[sub]))
	for roomID := range r.joined[sub] {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		r.leaveLocked(sub, roomID)
	}
	return rooms
}

func (r *Router) leaveLocked(sub ports.Subscriber, roomID domain.RoomID) {
	if room, ok := r.rooms[roomID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if set, ok := r.joined[sub]; ok {
		delete(set, roomID)
		if len(set) == 0 {
			delete(r.joined, sub)
		}
	}
}

// Publish delivers an event to every session currently joined to the room
// and returns the count reached. Zero is valid: the recipient may simply be
// offline.
func (r *Router) Publish(roomID domain.RoomID, event domain.Event) int {
	return r.PublishMulti([]domain.RoomID{roomID}, event, nil)
}

// PublishExcept is Publish minus one session, used for typing signals so the
// emitter does not see its own indicator.
func (r *Router) PublishExcept(roomID domain.RoomID, event domain.Event, except ports.Subscriber) int {
	return r.PublishMulti([]domain.RoomID{roomID}, event, except)
}

// PublishMulti delivers one event to the union of several rooms' members,
// enqueueing at most once per session even when a session is in more than
// one of the target rooms. Fan-out completes while the lock is held, which
// serializes publishes into a single total order per room; Enqueue never
// blocks, so the critical section stays short.
func (r *Router) PublishMulti(roomIDs []domain.RoomID, event domain.Event, except ports.Subscriber) int {
	var slow []ports.Subscriber
	delivered := 0

	r.mu.Lock()
	seen := make(map[ports.Subscriber]bool)
	for _, roomID := range roomIDs {
		for sub := range r.rooms[roomID] {
			if sub == except || seen[sub] {
				continue
			}
			seen[sub] = true
			if sub.Enqueue(event) {
				delivered++
			} else {
				slow = append(slow, sub)
			}
		}
	}
	r.mu.Unlock()

	for _, sub := range slow {
		r.logger.Warn("session send queue full, dropping session",
			"user_id", sub.Session().UserID,
			"session_id", sub.Session().ID,
		)
		r.onSlow(sub)
	}

	if delivered == 0 {
		// Not an error: recipient presumed offline.
		r.logger.Debug("event published to empty rooms", "event_type", event.Type)
	}
	return delivered
}

// RoomCount returns the number of active rooms.
func (r *Router) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// MembersIn returns the number of sessions joined to a room.
func (r *Router) MembersIn(roomID domain.RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// JoinedRooms returns the rooms a session currently belongs to.
func (r *Router) JoinedRooms(sub ports.Subscriber) []domain.RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]domain.RoomID, 0, len(r.joined[sub]))
	for roomID := range r.joined[sub] {
		rooms = append(rooms, roomID)
	}
	return rooms
}
