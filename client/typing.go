package client

import (
	"sync"
	"time"
)

// emitGate limits how often an action fires per key. Used to collapse
// per-keystroke typing signals into at most one emission per interval.
type emitGate struct {
	mu       sync.Mutex
	last     map[string]time.Time
	interval time.Duration
	now      func() time.Time
}

func newEmitGate(interval time.Duration, now func() time.Time) *emitGate {
	return &emitGate{
		last:     make(map[string]time.Time),
		interval: interval,
		now:      now,
	}
}

// Allow reports whether the key may fire now, recording the emission if so.
func (g *emitGate) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[key]; ok && now.Sub(last) < g.interval {
		return false
	}
	g.last[key] = now
	return true
}

// DefaultTypingTTL is how long a typing indicator stays visible without a
// fresh signal. The relay sends no explicit "stopped typing" event.
const DefaultTypingTTL = 2 * time.Second

// TypingTracker maintains the set of users currently typing per ticket.
// Indicators expire TTL after the last observed signal. Safe for concurrent
// use.
type TypingTracker struct {
	mu      sync.Mutex
	tickets map[string]map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewTypingTracker creates a tracker with the given indicator TTL. A zero
// ttl means DefaultTypingTTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl == 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		tickets: make(map[string]map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Observe records a typing signal for the user in a ticket, refreshing the
// indicator's expiry.
func (t *TypingTracker) Observe(ticketID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.tickets[ticketID]
	if !ok {
		users = make(map[string]time.Time)
		t.tickets[ticketID] = users
	}
	users[userID] = t.now()
}

// Active returns the users whose typing indicator has not yet expired for
// the ticket, pruning stale entries along the way.
func (t *TypingTracker) Active(ticketID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.tickets[ticketID]
	if !ok {
		return nil
	}

	now := t.now()
	active := make([]string, 0, len(users))
	for userID, seen := range users {
		if now.Sub(seen) >= t.ttl {
			delete(users, userID)
			continue
		}
		active = append(active, userID)
	}
	if len(users) == 0 {
		delete(t.tickets, ticketID)
	}
	return active
}
