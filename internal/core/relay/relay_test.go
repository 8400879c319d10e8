package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canteo/chat-relay/internal/core/domain"
	apperrors "github.com/canteo/chat-relay/internal/core/errors"
	"github.com/canteo/chat-relay/internal/core/relay"
)

func startRelay(t *testing.T, opts ...relay.Option) *relay.Relay {
	t.Helper()
	r := relay.New(testLogger(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)
	return r
}

// register admits a session and waits for its connected event, so the caller
// knows the self-room join has completed.
func register(t *testing.T, r *relay.Relay, sub *fakeSub) {
	t.Helper()
	r.Register <- sub
	ev := recvEvent(t, sub)
	require.Equal(t, domain.EventConnected, ev.Type)
}

func unregister(t *testing.T, r *relay.Relay, sub *fakeSub) {
	t.Helper()
	r.Unregister <- sub
	select {
	case <-sub.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session teardown")
	}
}

func recvEvent(t *testing.T, sub *fakeSub) domain.Event {
	t.Helper()
	select {
	case ev := <-sub.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestRelay_RegisterAutoJoinsSelfRoom(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	b := newFakeSub("u2", domain.RoleCanteenStaff, "Bea")
	register(t, r, a)
	register(t, r, b)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 2, stats.Identities)
	assert.Equal(t, 2, stats.Rooms)
	assert.True(t, r.IsUserConnected("u1"))

	// Direct addressing works without any explicit join.
	n, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, n, "recipient plus the sender's own self-room")

	ev := recvEvent(t, b)
	require.Equal(t, domain.EventMessage, ev.Type)
	msg := ev.Payload.(*domain.ChatEvent)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, domain.RoleEndUser, msg.SenderRole)
	assert.NotEmpty(t, msg.ID, "relay assigns an event ID when the author did not")
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestRelay_SenderIdentityCannotBeSpoofed(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	b := newFakeSub("u2", domain.RoleEndUser, "Bea")
	register(t, r, a)
	register(t, r, b)

	_, err := r.SendMessage(a, &domain.ChatEvent{
		SenderID:    "admin",
		SenderRole:  domain.RoleAdmin,
		SenderName:  "Imposter",
		RecipientID: "u2",
		Content:     "hello",
	})
	require.NoError(t, err)

	msg := recvEvent(t, b).Payload.(*domain.ChatEvent)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, domain.RoleEndUser, msg.SenderRole)
	assert.Equal(t, "Ada", msg.SenderName)
}

func TestRelay_SendMessageValidation(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	register(t, r, a)

	t.Run("missing recipient", func(t *testing.T) {
		_, err := r.SendMessage(a, &domain.ChatEvent{Content: "hi"})
		assert.ErrorIs(t, err, apperrors.ErrRecipientRequired)
	})

	t.Run("missing content", func(t *testing.T) {
		_, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2"})
		assert.ErrorIs(t, err, apperrors.ErrContentRequired)
	})

	t.Run("offline recipient is not an error", func(t *testing.T) {
		n, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "nonexistent-user", Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the sender's own self-room is reached")
	})
}

func TestRelay_MultiTabFanOut(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	tab1 := newFakeSub("u2", domain.RoleEndUser, "Bea")
	tab2 := newFakeSub("u2", domain.RoleEndUser, "Bea")
	register(t, r, a)
	register(t, r, tab1)
	register(t, r, tab2)

	assert.Equal(t, 3, r.Stats().Sessions)
	assert.Equal(t, 2, r.Stats().Identities)

	n, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "both of u2's tabs plus the sender")

	for _, tab := range []*fakeSub{tab1, tab2} {
		ev := recvEvent(t, tab)
		assert.Equal(t, domain.EventMessage, ev.Type)
	}
}

func TestRelay_DisconnectCleansUpAndNoReplay(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	b := newFakeSub("u2", domain.RoleEndUser, "Bea")
	register(t, r, a)
	register(t, r, b)

	unregister(t, r, b)
	assert.False(t, r.IsUserConnected("u2"))
	assert.Equal(t, 1, r.Stats().Rooms, "u2's emptied self-room is gone")

	// Published during the disconnected interval: lost by design, the relay
	// keeps no backlog.
	n, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2", Content: "while you were away"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Reconnecting with the same identity rejoins the same self-room and
	// receives only subsequently published events.
	b2 := newFakeSub("u2", domain.RoleEndUser, "Bea")
	register(t, r, b2)

	_, err = r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2", Content: "welcome back"})
	require.NoError(t, err)

	ev := recvEvent(t, b2)
	require.Equal(t, domain.EventMessage, ev.Type)
	assert.Equal(t, "welcome back", ev.Payload.(*domain.ChatEvent).Content)
	assert.Empty(t, b2.drain(), "no redelivery of events missed while offline")
}

func TestRelay_UnregisterIsIdempotent(t *testing.T) {
	r := startRelay(t)
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	register(t, r, a)

	unregister(t, r, a)
	// Second drop (e.g. slow-consumer path racing the read pump's teardown).
	r.Unregister <- a

	assert.Equal(t, 0, r.Stats().Sessions)
}

func TestRelay_TicketRoomAuthorization(t *testing.T) {
	r := startRelay(t)
	user := newFakeSub("u1", domain.RoleEndUser, "Ada", "t1")
	staff := newFakeSub("s1", domain.RoleCanteenStaff, "Bea")
	register(t, r, user)
	register(t, r, staff)

	assert.NoError(t, r.JoinTicket(user, "t1"), "end user may join a claimed ticket")
	assert.ErrorIs(t, r.JoinTicket(user, "t9"), apperrors.ErrForbiddenRoom)
	assert.NoError(t, r.JoinTicket(staff, "t9"), "support side may join any ticket")
	assert.ErrorIs(t, r.JoinTicket(staff, ""), apperrors.ErrTicketIDRequired)
}

func TestRelay_TypingSignal(t *testing.T) {
	r := startRelay(t)
	emitter := newFakeSub("u1", domain.RoleEndUser, "Ada", "t1")
	peer := newFakeSub("s1", domain.RoleCanteenStaff, "Bea")
	outsider := newFakeSub("u3", domain.RoleEndUser, "Cay")
	register(t, r, emitter)
	register(t, r, peer)
	register(t, r, outsider)

	require.NoError(t, r.JoinTicket(emitter, "t1"))
	require.NoError(t, r.JoinTicket(peer, "t1"))

	n, err := r.SignalTyping(emitter, &domain.TypingSignal{TicketID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := recvEvent(t, peer)
	require.Equal(t, domain.EventTyping, ev.Type)
	typing := ev.Payload.(domain.TypingPayload)
	assert.Equal(t, "u1", typing.UserID)
	assert.Equal(t, "t1", typing.TicketID)

	assert.Empty(t, peer.drain(), "exactly one typing event per emission")
	assert.Empty(t, emitter.drain(), "emitter does not see its own indicator")
	assert.Empty(t, outsider.drain(), "sessions outside the ticket room see nothing")

	_, err = r.SignalTyping(emitter, &domain.TypingSignal{})
	assert.ErrorIs(t, err, apperrors.ErrTicketIDRequired)
}

func TestRelay_ReadReceiptRouting(t *testing.T) {
	r := startRelay(t)
	reader := newFakeSub("u1", domain.RoleEndUser, "Ada", "t1")
	sender := newFakeSub("s1", domain.RoleCanteenStaff, "Bea")
	register(t, r, reader)
	register(t, r, sender)

	t.Run("ticket scoped", func(t *testing.T) {
		require.NoError(t, r.JoinTicket(sender, "t1"))

		n, err := r.MarkRead(reader, &domain.ReadReceipt{MessageID: "m1", TicketID: "t1"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ev := recvEvent(t, sender)
		require.Equal(t, domain.EventMessageRead, ev.Type)
		read := ev.Payload.(domain.ReadPayload)
		assert.Equal(t, "m1", read.MessageID)
		assert.Equal(t, []string{"u1"}, read.ReadBy)
	})

	t.Run("falls back to sender self-room", func(t *testing.T) {
		n, err := r.MarkRead(reader, &domain.ReadReceipt{MessageID: "m2", SenderID: "s1"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		ev := recvEvent(t, sender)
		assert.Equal(t, domain.EventMessageRead, ev.Type)
	})

	t.Run("unroutable receipt is rejected", func(t *testing.T) {
		// The legacy protocol would have broadcast this to a room keyed by
		// the message ID, which nothing joins.
		_, err := r.MarkRead(reader, &domain.ReadReceipt{MessageID: "m3"})
		assert.ErrorIs(t, err, apperrors.ErrReceiptUnroutable)
	})
}

// fakeBackplane records published frames and lets tests inject inbound ones.
type fakeBackplane struct {
	mu      sync.Mutex
	frames  []domain.RelayFrame
	handle  func(domain.RelayFrame)
	started chan struct{}
}

func newFakeBackplane() *fakeBackplane {
	return &fakeBackplane{started: make(chan struct{})}
}

func (f *fakeBackplane) Publish(_ context.Context, frame domain.RelayFrame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeBackplane) Start(ctx context.Context, handle func(domain.RelayFrame)) error {
	f.mu.Lock()
	f.handle = handle
	f.mu.Unlock()
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeBackplane) Ping(context.Context) error { return nil }
func (f *fakeBackplane) Close() error               { return nil }

func (f *fakeBackplane) published() []domain.RelayFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RelayFrame(nil), f.frames...)
}

func (f *fakeBackplane) inject(t *testing.T, frame domain.RelayFrame) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("backplane consumer never started")
	}
	f.mu.Lock()
	handle := f.handle
	f.mu.Unlock()
	handle(frame)
}

func TestRelay_BackplaneMirrorAndLoopGuard(t *testing.T) {
	bp := newFakeBackplane()
	r := startRelay(t, relay.WithBackplane(bp))
	a := newFakeSub("u1", domain.RoleEndUser, "Ada")
	b := newFakeSub("u2", domain.RoleEndUser, "Bea")
	register(t, r, a)
	register(t, r, b)

	_, err := r.SendMessage(a, &domain.ChatEvent{RecipientID: "u2", Content: "hi"})
	require.NoError(t, err)
	recvEvent(t, b)

	var mirrored domain.RelayFrame
	require.Eventually(t, func() bool {
		frames := bp.published()
		if len(frames) == 0 {
			return false
		}
		mirrored = frames[0]
		return true
	}, 2*time.Second, 10*time.Millisecond, "local publish must reach the backplane")

	assert.NotEmpty(t, mirrored.InstanceID)
	assert.Contains(t, mirrored.Rooms, domain.UserRoom("u2"))

	// Our own frame coming back around must not be redelivered.
	bp.inject(t, mirrored)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, b.drain(), "own-instance frames are dropped")

	// A foreign instance's frame is fanned out locally.
	foreign := mirrored
	foreign.InstanceID = "some-other-instance"
	bp.inject(t, foreign)

	ev := recvEvent(t, b)
	assert.Equal(t, domain.EventMessage, ev.Type)
	before := len(bp.published())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, bp.published(), before, "foreign frames are not re-mirrored")
}
