// Package mocks provides testify mocks for the core ports.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/canteo/chat-relay/internal/core/domain"
)

// MockBackplane is a mock implementation of ports.Backplane
type MockBackplane struct {
	mock.Mock
}

func (m *MockBackplane) Publish(ctx context.Context, frame domain.RelayFrame) error {
	args := m.Called(ctx, frame)
	return args.Error(0)
}

func (m *MockBackplane) Start(ctx context.Context, handle func(domain.RelayFrame)) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

func (m *MockBackplane) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackplane) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockRoomAuthorizer is a mock implementation of ports.RoomAuthorizer
type MockRoomAuthorizer struct {
	mock.Mock
}

func (m *MockRoomAuthorizer) CanJoinTicket(session *domain.Session, ticketID string) bool {
	args := m.Called(session, ticketID)
	return args.Bool(0)
}
