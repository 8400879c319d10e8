package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/canteo/chat-relay/internal/core/errors"
)

// Claims defines the identity asserted at connection handshake. The token is
// minted by the upstream auth service, which also knows which tickets an end
// user participates in (per the Persistence Service) and lists them here.
type Claims struct {
	UserID  string   `json:"user_id"`
	Role    string   `json:"role"`
	Name    string   `json:"name"`
	Tickets []string `json:"tickets,omitempty"`
	jwt.RegisteredClaims
}

// RequireIdentity checks that all three identity claims are present.
// Connections failing this check are refused before any session state exists.
func (c *Claims) RequireIdentity() error {
	if strings.TrimSpace(c.UserID) == "" ||
		strings.TrimSpace(c.Role) == "" ||
		strings.TrimSpace(c.Name) == "" {
		return apperrors.ErrMissingIdentityClaims
	}
	return nil
}

type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
}

func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secretKey: []byte(secret), ttl: ttl}
}

// GenerateToken creates a new JWT carrying the handshake identity claims.
func (tm *TokenManager) GenerateToken(userID, role, name string, tickets []string) (string, error) {
	claims := &Claims{
		UserID:  userID,
		Role:    role,
		Name:    name,
		Tickets: tickets,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tm.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// ValidateToken parses and validates the token string
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	return claims, nil
}
