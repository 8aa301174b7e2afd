package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"coachconnect-chat/internal/models"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) Append(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	return stored, args.Bool(1), args.Error(2)
}

func (m *MessageStoreMock) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) MarkRead(ctx context.Context, userID, peerID string) (int64, error) {
	args := m.Called(ctx, userID, peerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) UnreadCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MessageStoreMock) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

type ResolverMock struct {
	mock.Mock
}

func (m *ResolverMock) Resolve(ctx context.Context, credential string) (string, error) {
	args := m.Called(ctx, credential)
	return args.String(0), args.Error(1)
}

type LimiterMock struct {
	mock.Mock
}

func (m *LimiterMock) Allow(ctx context.Context, identifier string) (bool, error) {
	args := m.Called(ctx, identifier)
	return args.Bool(0), args.Error(1)
}

// PublisherMock stands in for rabbitmq.Publisher.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	return m.Called(ctx, routingKey, event, headers).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}
