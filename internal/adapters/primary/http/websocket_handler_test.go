package http_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "github.com/canteo/chat-relay/internal/adapters/primary/http"
	"github.com/canteo/chat-relay/internal/auth"
	"github.com/canteo/chat-relay/internal/config"
	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/relay"
)

func newTestGateway(t *testing.T) (*httptest.Server, *auth.TokenManager) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		RateLimit: config.RateLimitConfig{Enabled: false},
		WebSocket: config.WebSocketConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		App: config.AppConfig{Environment: "development"},
	}

	r := relay.New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	tm := auth.NewTokenManager("test-secret-key-for-gateway", time.Hour)
	handler := apphttp.NewWebSocketHandler(r, tm, cfg, logger)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, tm
}

func dialGateway(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	srv, _ := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayRejectsMalformedToken(t *testing.T) {
	srv, _ := newTestGateway(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=not-a-jwt"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayRejectsIncompleteClaims(t *testing.T) {
	srv, tm := newTestGateway(t)

	// A token with no display name must be refused before any session state
	// is created.
	token, err := tm.GenerateToken("u1", "end_user", "", nil)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	_, resp, dialErr := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, dialErr)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayRejectsUnknownRole(t *testing.T) {
	srv, tm := newTestGateway(t)

	token, err := tm.GenerateToken("u1", "superuser", "Ada", nil)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	_, resp, dialErr := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, dialErr)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayEndToEndMessage(t *testing.T) {
	srv, tm := newTestGateway(t)

	aliceToken, err := tm.GenerateToken("alice", "end_user", "Alice", nil)
	require.NoError(t, err)
	staffToken, err := tm.GenerateToken("staff-1", "canteen_staff", "Bea", nil)
	require.NoError(t, err)

	alice := dialGateway(t, srv, aliceToken)
	staff := dialGateway(t, srv, staffToken)

	// Both sessions get their connected confirmation first.
	ev := readEvent(t, alice)
	require.Equal(t, domain.EventConnected, ev.Type)
	var connected domain.ConnectedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &connected))
	assert.Equal(t, "alice", connected.UserID)
	assert.NotEmpty(t, connected.SessionID)

	ev = readEvent(t, staff)
	require.Equal(t, domain.EventConnected, ev.Type)

	// Alice sends a direct message to the staff member.
	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"type": "send_message",
		"payload": map[string]interface{}{
			"recipient_id": "staff-1",
			"content":      "my order is missing the drink",
			// A spoofed sender must be overwritten by the gateway.
			"sender_id":   "someone-else",
			"sender_name": "Mallory",
		},
	}))

	// Alice gets the ack and her own echo; order between them is not fixed.
	var ack *struct {
		EventID string `json:"eventId"`
		Success bool   `json:"success"`
	}
	var echo *domain.ChatEvent
	for ack == nil || echo == nil {
		ev := readEvent(t, alice)
		switch ev.Type {
		case domain.EventAck:
			ack = &struct {
				EventID string `json:"eventId"`
				Success bool   `json:"success"`
			}{}
			require.NoError(t, json.Unmarshal(ev.Payload, ack))
		case domain.EventMessage:
			echo = &domain.ChatEvent{}
			require.NoError(t, json.Unmarshal(ev.Payload, echo))
		default:
			t.Fatalf("unexpected event type %q", ev.Type)
		}
	}
	assert.True(t, ack.Success)
	assert.NotEmpty(t, ack.EventID)

	// The staff member receives the message with the authenticated identity.
	ev = readEvent(t, staff)
	require.Equal(t, domain.EventMessage, ev.Type)
	var msg domain.ChatEvent
	require.NoError(t, json.Unmarshal(ev.Payload, &msg))
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, domain.RoleEndUser, msg.SenderRole)
	assert.Equal(t, "my order is missing the drink", msg.Content)
	assert.Equal(t, ack.EventID, msg.ID)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestGatewayInvalidSendIsAckedAsFailure(t *testing.T) {
	srv, tm := newTestGateway(t)

	token, err := tm.GenerateToken("alice", "end_user", "Alice", nil)
	require.NoError(t, err)
	conn := dialGateway(t, srv, token)

	ev := readEvent(t, conn)
	require.Equal(t, domain.EventConnected, ev.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "send_message",
		"payload": map[string]interface{}{"content": "no recipient"},
	}))

	ev = readEvent(t, conn)
	require.Equal(t, domain.EventAck, ev.Type)
	var ack domain.AckPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &ack))
	assert.False(t, ack.Success)
	assert.NotEmpty(t, ack.Error)
}

func TestGatewayPingPong(t *testing.T) {
	srv, tm := newTestGateway(t)

	token, err := tm.GenerateToken("alice", "end_user", "Alice", nil)
	require.NoError(t, err)
	conn := dialGateway(t, srv, token)

	ev := readEvent(t, conn)
	require.Equal(t, domain.EventConnected, ev.Type)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	ev = readEvent(t, conn)
	assert.Equal(t, domain.EventPong, ev.Type)
}
