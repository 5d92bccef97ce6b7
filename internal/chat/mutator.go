package chat

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/database"
	"golang.org/x/sync/errgroup"
)

const (
	// maxDeleteAttempts bounds how often a channel delete re-sweeps messages
	// that were sent while it was running.
	maxDeleteAttempts    = 3
	maxConcurrentDeletes = 16
)

// Mutator issues the named write operations against the store. Every
// operation is a single atomic store operation except DeleteChannel.
type Mutator struct {
	db  database.ChatRepository
	log *log.Logger
}

func NewMutator(db database.ChatRepository, logger *log.Logger) *Mutator {
	return &Mutator{db: db, log: logger}
}

// CreateChannel creates a channel whose members are the creator plus
// others. Names need not be unique.
func (m *Mutator) CreateChannel(ctx context.Context, name, creatorId string, others ...string) (database.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return database.Channel{}, ErrValidation
	}

	c, err := m.db.CreateChannel(ctx, database.CreateChannelParams{
		Name:      name,
		CreatorId: creatorId,
		Members:   others,
	})
	if err != nil {
		return database.Channel{}, &MutationError{Op: "create channel", Err: err}
	}

	return c, nil
}

func (m *Mutator) JoinChannel(ctx context.Context, channelId, userId string) error {
	if err := m.db.AddMember(ctx, channelId, userId); err != nil {
		return &MutationError{Op: "join channel", Err: err}
	}
	return nil
}

// LeaveChannel removes userId from the member set. Callers keep the creator
// from leaving.
func (m *Mutator) LeaveChannel(ctx context.Context, channelId, userId string) error {
	if err := m.db.RemoveMember(ctx, channelId, userId); err != nil {
		return &MutationError{Op: "leave channel", Err: err}
	}
	return nil
}

func (m *Mutator) RemoveMember(ctx context.Context, channelId, targetUserId string) error {
	if err := m.db.RemoveMember(ctx, channelId, targetUserId); err != nil {
		return &MutationError{Op: "remove member", Err: err}
	}
	return nil
}

// DeleteChannel deletes every message of the channel and then the channel
// itself. Only the creator may delete a channel; anyone else gets
// ErrPermissionDenied and nothing is written.
func (m *Mutator) DeleteChannel(ctx context.Context, channelId, requesterId string) error {
	c, err := m.db.GetChannel(ctx, channelId)
	if err != nil {
		return &MutationError{Op: "delete channel", Err: err}
	}

	if c.CreatorId != requesterId {
		return ErrPermissionDenied
	}

	for attempt := 1; ; attempt++ {
		if err := m.deleteMessages(ctx, channelId); err != nil {
			return &MutationError{Op: "delete messages", Err: err}
		}

		err = m.db.DeleteChannel(ctx, channelId)
		if !errors.Is(err, database.ErrChannelNotEmpty) || attempt == maxDeleteAttempts {
			break
		}
		m.log.Printf("delete channel %q: messages arrived during delete, retrying", channelId)
	}
	if err != nil {
		return &MutationError{Op: "delete channel", Err: err}
	}

	return nil
}

// deleteMessages deletes every message currently in the channel and waits
// for all deletions.
func (m *Mutator) deleteMessages(ctx context.Context, channelId string) error {
	msgs, err := m.db.ListMessages(ctx, channelId)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDeletes)
	for _, msg := range msgs {
		g.Go(func() error {
			err := m.db.DeleteMessage(gctx, channelId, msg.Id)
			if errors.Is(err, database.ErrNotFound) {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

// SendMessage appends a message. Blank text is rejected with ErrValidation
// without a write.
func (m *Mutator) SendMessage(ctx context.Context, channelId, senderId, senderName, text string) (database.Message, error) {
	if strings.TrimSpace(text) == "" {
		return database.Message{}, ErrValidation
	}

	msg, err := m.db.CreateMessage(ctx, database.CreateMessageParams{
		ChannelId: channelId,
		UserId:    senderId,
		UserName:  senderName,
		Text:      text,
	})
	if err != nil {
		return database.Message{}, &MutationError{Op: "send message", Err: err}
	}

	return msg, nil
}
