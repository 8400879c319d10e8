package http_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "github.com/canteo/chat-relay/internal/adapters/primary/http"
	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

func handleErr(t *testing.T, err error) (int, apphttp.ErrorResponse) {
	t.Helper()
	h := apphttp.NewErrorHandler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), err)

	var resp apphttp.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestErrorHandlerMapsSentinels(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing claims", apperrors.ErrMissingIdentityClaims, http.StatusUnauthorized, "AUTHENTICATION_ERROR"},
		{"invalid token", apperrors.ErrInvalidToken, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"forbidden room", apperrors.ErrForbiddenRoom, http.StatusForbidden, "FORBIDDEN"},
		{"missing recipient", apperrors.ErrRecipientRequired, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unroutable receipt", apperrors.ErrReceiptUnroutable, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"rate limited", apperrors.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{"unknown error", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := handleErr(t, tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestErrorHandlerAppError(t *testing.T) {
	details := map[string]interface{}{"role": "role must be one of end_user, canteen_staff, admin"}
	status, resp := handleErr(t, apperrors.NewValidationError(nil, "invalid token request", details))

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Equal(t, "invalid token request", resp.Error)
	assert.Contains(t, resp.Details, "role")

	status, resp = handleErr(t, apperrors.NewBadRequestError(errors.New("unexpected EOF"), "invalid request body"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", resp.Code)
	assert.Equal(t, "invalid request body", resp.Error)
}

func TestAppErrorUnwraps(t *testing.T) {
	underlying := errors.New("unexpected EOF")
	err := apperrors.NewBadRequestError(underlying, "invalid request body")
	assert.ErrorIs(t, err, underlying)
	assert.Equal(t, "invalid request body", err.Error())
}
