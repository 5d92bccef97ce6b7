package database

import (
	"context"

	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, id string) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SearchUsers(ctx context.Context, query string) ([]User, error) {
	args := m.Called(ctx, query)
	if users, ok := args.Get(0).([]User); ok {
		return users, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) CreateChannel(ctx context.Context, params CreateChannelParams) (Channel, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) GetChannel(ctx context.Context, id string) (Channel, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Channel), args.Error(1)
}
func (m *MockChatRepository) ListChannels(ctx context.Context, member string) ([]Channel, error) {
	args := m.Called(ctx, member)
	if channels, ok := args.Get(0).([]Channel); ok {
		return channels, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) AddMember(ctx context.Context, channelId, userId string) error {
	args := m.Called(ctx, channelId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) RemoveMember(ctx context.Context, channelId, userId string) error {
	args := m.Called(ctx, channelId, userId)
	return args.Error(0)
}
func (m *MockChatRepository) DeleteChannel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) ListMessages(ctx context.Context, channelId string) ([]Message, error) {
	args := m.Called(ctx, channelId)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) DeleteMessage(ctx context.Context, channelId, messageId string) error {
	args := m.Called(ctx, channelId, messageId)
	return args.Error(0)
}
func (m *MockChatRepository) WatchChannels(ctx context.Context, member string) (*live.Subscription[[]Channel], error) {
	args := m.Called(ctx, member)
	if sub, ok := args.Get(0).(*live.Subscription[[]Channel]); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) WatchMessages(ctx context.Context, channelId string) (*live.Subscription[[]Message], error) {
	args := m.Called(ctx, channelId)
	if sub, ok := args.Get(0).(*live.Subscription[[]Message]); ok {
		return sub, args.Error(1)
	}
	return nil, args.Error(1)
}
