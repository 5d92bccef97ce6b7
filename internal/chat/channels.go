package chat

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/samber/lo"
)

// ChannelSynchronizer keeps the channels a user belongs to, every channel,
// and the selected channel. The selection is always one of the user's
// channels or empty.
type ChannelSynchronizer struct {
	userId      string
	mine        *live.Subscription[[]database.Channel]
	all         *live.Subscription[[]database.Channel]
	myChannels  []database.Channel
	allChannels []database.Channel
	selected    string
}

// OpenChannelSynchronizer opens the two channel subscriptions for userId.
func OpenChannelSynchronizer(ctx context.Context, db database.ChatRepository, userId string) (*ChannelSynchronizer, error) {
	mine, err := db.WatchChannels(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("watch my channels: %w", err)
	}

	all, err := db.WatchChannels(ctx, "")
	if err != nil {
		mine.Cancel()
		return nil, fmt.Errorf("watch all channels: %w", err)
	}

	return &ChannelSynchronizer{
		userId: userId,
		mine:   mine,
		all:    all,
	}, nil
}

func (s *ChannelSynchronizer) MineUpdates() <-chan []database.Channel {
	return s.mine.Updates()
}

func (s *ChannelSynchronizer) AllUpdates() <-chan []database.Channel {
	return s.all.Updates()
}

// ReconcileMine replaces the user's channel list and clears the selection
// when the selected channel is no longer in it. It reports whether the
// selection was cleared.
func (s *ChannelSynchronizer) ReconcileMine(channels []database.Channel) bool {
	s.myChannels = channels
	if s.selected == "" {
		return false
	}

	if _, ok := s.find(s.selected); !ok {
		s.selected = ""
		return true
	}
	return false
}

func (s *ChannelSynchronizer) ReconcileAll(channels []database.Channel) {
	s.allChannels = channels
}

func (s *ChannelSynchronizer) Mine() []database.Channel {
	return s.myChannels
}

func (s *ChannelSynchronizer) All() []database.Channel {
	return s.allChannels
}

// Discoverable returns the channels the user can join.
func (s *ChannelSynchronizer) Discoverable() []database.Channel {
	return lo.Filter(s.allChannels, func(c database.Channel, _ int) bool {
		return !c.HasMember(s.userId)
	})
}

func (s *ChannelSynchronizer) find(channelId string) (database.Channel, bool) {
	return lo.Find(s.myChannels, func(c database.Channel) bool {
		return c.Id == channelId
	})
}

// Select makes channelId the selected channel. Only the user's own channels
// can be selected.
func (s *ChannelSynchronizer) Select(channelId string) bool {
	if _, ok := s.find(channelId); !ok {
		return false
	}
	s.selected = channelId
	return true
}

func (s *ChannelSynchronizer) ClearSelection() {
	s.selected = ""
}

func (s *ChannelSynchronizer) Selected() string {
	return s.selected
}

// SelectedChannel returns the selected channel as last pushed by the store.
func (s *ChannelSynchronizer) SelectedChannel() (database.Channel, bool) {
	if s.selected == "" {
		return database.Channel{}, false
	}
	return s.find(s.selected)
}

// Close cancels both subscriptions and waits for them to stop.
func (s *ChannelSynchronizer) Close() {
	s.mine.Cancel()
	s.all.Cancel()
}
