package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Hour)

	token, err := tm.GenerateToken("u1", "end_user", "Ada", []string{"t1", "t2"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "end_user", claims.Role)
	assert.Equal(t, "Ada", claims.Name)
	assert.Equal(t, []string{"t1", "t2"}, claims.Tickets)
	assert.NoError(t, claims.RequireIdentity())
}

func TestTokenManager_UsesConfiguredTTL(t *testing.T) {
	ttl := 2 * time.Hour
	tm := NewTokenManager("test-secret", ttl)

	start := time.Now()

	token, err := tm.GenerateToken("u1", "admin", "Ada", nil)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)

	expectedExpiry := start.Add(ttl)
	assert.WithinDuration(t, expectedExpiry, claims.ExpiresAt.Time, 2*time.Second)
}

func TestTokenManager_RejectsWrongSecret(t *testing.T) {
	tm := NewTokenManager("secret-a", time.Hour)
	other := NewTokenManager("secret-b", time.Hour)

	token, err := tm.GenerateToken("u1", "end_user", "Ada", nil)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm := NewTokenManager("test-secret", -time.Minute)

	token, err := tm.GenerateToken("u1", "end_user", "Ada", nil)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.Error(t, err)
}

func TestClaims_RequireIdentity(t *testing.T) {
	tests := []struct {
		name   string
		claims Claims
		valid  bool
	}{
		{"complete", Claims{UserID: "u1", Role: "end_user", Name: "Ada"}, true},
		{"missing user id", Claims{Role: "end_user", Name: "Ada"}, false},
		{"missing role", Claims{UserID: "u1", Name: "Ada"}, false},
		{"missing name", Claims{UserID: "u1", Role: "end_user"}, false},
		{"whitespace only", Claims{UserID: "  ", Role: "end_user", Name: "Ada"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.claims.RequireIdentity()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrMissingIdentityClaims)
			}
		})
	}
}
