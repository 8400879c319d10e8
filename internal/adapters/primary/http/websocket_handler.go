package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	mw "github.com/canteo/chat-relay/internal/adapters/primary/http/middleware"
	"github.com/canteo/chat-relay/internal/adapters/primary/ws"
	"github.com/canteo/chat-relay/internal/auth"
	"github.com/canteo/chat-relay/internal/config"
	"github.com/canteo/chat-relay/internal/core/domain"
	"github.com/canteo/chat-relay/internal/core/relay"
)

// WebSocketHandler authenticates and upgrades relay connections. The
// handshake happens entirely before the upgrade: a connection that cannot
// present complete identity claims never becomes a session and never touches
// room state.
type WebSocketHandler struct {
	relay          *relay.Relay
	tm             *auth.TokenManager
	upgrader       websocket.Upgrader
	connectLimiter *mw.RateLimitByKey
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	r *relay.Relay,
	tm *auth.TokenManager,
	cfg *config.Config,
	logger *slog.Logger,
) *WebSocketHandler {
	handler := &WebSocketHandler{
		relay:  r,
		tm:     tm,
		logger: logger,
	}

	if cfg.RateLimit.Enabled {
		handler.connectLimiter = mw.NewRateLimitByKey(
			cfg.RateLimit.ConnectRPS,
			cfg.RateLimit.ConnectBurst,
		)
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		CheckOrigin:      handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *WebSocketHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.WebSocket.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		// Check against allowed origins
		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:] // Remove the "*", keep ".example.com"
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles WebSocket connection requests
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	// 1. Authenticate the connection via query parameter
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		h.logger.Warn("websocket connection rejected: missing token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tm.ValidateToken(tokenString)
	if err != nil {
		h.logger.Warn("websocket connection rejected: invalid token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	// 2. Verify the identity claims are complete before any session state
	// is created.
	if err := claims.RequireIdentity(); err != nil {
		h.logger.Warn("websocket connection rejected: incomplete claims",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	role := domain.Role(claims.Role)
	if !role.IsValid() {
		h.logger.Warn("websocket connection rejected: unknown role",
			"request_id", requestID,
			"role", claims.Role,
		)
		http.Error(w, "unknown role in identity claims", http.StatusUnauthorized)
		return
	}

	// 3. Bound reconnect storms per identity
	if h.connectLimiter != nil && !h.connectLimiter.Allow(claims.UserID) {
		h.logger.Warn("websocket connection rejected: connect rate exceeded",
			"request_id", requestID,
			"user_id", claims.UserID,
		)
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	// 4. Upgrade the connection
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade websocket connection",
			"request_id", requestID,
			"user_id", claims.UserID,
			"error", err,
		)
		return
	}

	session := domain.NewSession(claims.UserID, role, claims.Name, claims.Tickets)

	h.logger.Info("websocket connection established",
		"request_id", requestID,
		"user_id", session.UserID,
		"session_id", session.ID,
		"remote_addr", r.RemoteAddr,
	)

	// 5. Create and register the new client
	client := ws.NewClient(h.relay, conn, session, h.logger)
	h.relay.Register <- client

	// 6. Start the I/O pumps in new goroutines
	go client.WritePump()
	go client.ReadPump()
}
