package chat

import (
	"context"
	"fmt"
	"slices"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/live"
)

// MessageSynchronizer holds the one live message query of the selected
// channel and its last reconciled, ordered snapshot.
type MessageSynchronizer struct {
	db        database.ChatRepository
	channelId string
	sub       *live.Subscription[[]database.Message]
	messages  []database.Message
}

func NewMessageSynchronizer(db database.ChatRepository) *MessageSynchronizer {
	return &MessageSynchronizer{db: db}
}

// Switch replaces the subscription with one over channelId. The previous
// subscription is cancelled and has stopped before the new one is opened.
// An empty channelId only closes the current subscription.
func (s *MessageSynchronizer) Switch(ctx context.Context, channelId string) error {
	if s.sub != nil && s.channelId == channelId {
		return nil
	}

	s.Close()
	if channelId == "" {
		return nil
	}

	sub, err := s.db.WatchMessages(ctx, channelId)
	if err != nil {
		return fmt.Errorf("watch messages: %w", err)
	}

	s.sub = sub
	s.channelId = channelId
	return nil
}

// Updates returns the current subscription's snapshots, or nil when no
// channel is open.
func (s *MessageSynchronizer) Updates() <-chan []database.Message {
	if s.sub == nil {
		return nil
	}
	return s.sub.Updates()
}

// Reconcile replaces the message list with snapshot. A snapshot holding
// messages of another channel is stale and discarded; Reconcile reports
// whether the snapshot was applied.
func (s *MessageSynchronizer) Reconcile(snapshot []database.Message) bool {
	if s.sub == nil {
		return false
	}
	for _, m := range snapshot {
		if m.ChannelId != s.channelId {
			return false
		}
	}

	msgs := slices.Clone(snapshot)
	slices.SortStableFunc(msgs, database.CompareMessages)
	s.messages = msgs
	return true
}

func (s *MessageSynchronizer) ChannelId() string {
	return s.channelId
}

func (s *MessageSynchronizer) Messages() []database.Message {
	return s.messages
}

// Close cancels the subscription and forgets the message list.
func (s *MessageSynchronizer) Close() {
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.sub = nil
	s.channelId = ""
	s.messages = nil
}
