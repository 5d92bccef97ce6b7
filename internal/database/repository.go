package database

import (
	"context"
	"errors"

	"github.com/npezzotti/go-chatsync/internal/live"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrChannelNotEmpty = errors.New("channel still has messages")
)

// ChannelsTopic is notified on any change to any channel document.
const ChannelsTopic = "channels"

// MessagesTopic is notified on any change to a channel's messages.
func MessagesTopic(channelId string) string {
	return "messages/" + channelId
}

// ChatRepository is the remote document store: users, channels with a member
// set, and per-channel messages, with live queries over channels and messages.
type ChatRepository interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SearchUsers(ctx context.Context, query string) ([]User, error)

	CreateChannel(ctx context.Context, params CreateChannelParams) (Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	// ListChannels returns the channels containing member, or every channel
	// when member is empty.
	ListChannels(ctx context.Context, member string) ([]Channel, error)
	// AddMember atomically adds userId to the member set. Adding a present
	// member is a no-op.
	AddMember(ctx context.Context, channelId, userId string) error
	// RemoveMember atomically removes userId from the member set.
	RemoveMember(ctx context.Context, channelId, userId string) error
	// DeleteChannel deletes the channel document. It fails with
	// ErrChannelNotEmpty while messages remain under the channel.
	DeleteChannel(ctx context.Context, id string) error

	// CreateMessage appends a message; the store assigns id and CreatedAt.
	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	// ListMessages returns the channel's messages ordered by CompareMessages.
	ListMessages(ctx context.Context, channelId string) ([]Message, error)
	DeleteMessage(ctx context.Context, channelId, messageId string) error

	WatchChannels(ctx context.Context, member string) (*live.Subscription[[]Channel], error)
	WatchMessages(ctx context.Context, channelId string) (*live.Subscription[[]Message], error)
}
