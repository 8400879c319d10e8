package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/canteo/chat-relay/internal/auth"
	"github.com/canteo/chat-relay/internal/core/domain"
	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

// TokenHandler mints relay tokens directly. It exists for local development
// and integration testing only; in production tokens come from the platform's
// auth service and this handler must not be mounted.
type TokenHandler struct {
	tm           *auth.TokenManager
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewTokenHandler creates a new token handler
func NewTokenHandler(tm *auth.TokenManager, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tm:           tm,
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
	}
}

type tokenRequest struct {
	UserID  string   `json:"userId"`
	Role    string   `json:"role"`
	Name    string   `json:"name"`
	Tickets []string `json:"tickets,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleIssueToken issues a signed token for the supplied identity.
func (h *TokenHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "invalid request body"))
		return
	}

	details := make(map[string]interface{})
	if req.UserID == "" {
		details["userId"] = "userId is required"
	}
	if req.Name == "" {
		details["name"] = "name is required"
	}
	if !domain.Role(req.Role).IsValid() {
		details["role"] = "role must be one of end_user, canteen_staff, admin"
	}
	if len(details) > 0 {
		h.errorHandler.Handle(w, r, apperrors.NewValidationError(nil, "invalid token request", details))
		return
	}

	token, err := h.tm.GenerateToken(req.UserID, req.Role, req.Name, req.Tickets)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	h.logger.Info("development token issued",
		"request_id", GetRequestID(r.Context()),
		"user_id", req.UserID,
		"role", req.Role,
	)

	WriteJSON(w, http.StatusOK, tokenResponse{Token: token})
}
