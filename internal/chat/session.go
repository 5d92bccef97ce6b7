package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/samber/lo"
)

// Session is the chat state of one signed-in user: the channel and message
// synchronizers and the intents acting on them. It is driven by a single
// goroutine, the App loop, so none of its state is locked.
type Session struct {
	identity session.Identity
	db       database.ChatRepository
	mutator  *Mutator
	channels *ChannelSynchronizer
	messages *MessageSynchronizer
	view     View
	log      *log.Logger
	stats    stats.StatsProvider
}

func openSession(ctx context.Context, identity session.Identity, db database.ChatRepository, view View, logger *log.Logger, st stats.StatsProvider) (*Session, error) {
	channels, err := OpenChannelSynchronizer(ctx, db, identity.UserId)
	if err != nil {
		return nil, err
	}
	st.Incr(stats.NumLiveQueries)
	st.Incr(stats.NumLiveQueries)

	return &Session{
		identity: identity,
		db:       db,
		mutator:  NewMutator(db, logger),
		channels: channels,
		messages: NewMessageSynchronizer(db),
		view:     view,
		log:      logger,
		stats:    st,
	}, nil
}

// close cancels every live query of the session.
func (s *Session) close() {
	s.closeMessages()
	s.channels.Close()
	s.stats.Decr(stats.NumLiveQueries)
	s.stats.Decr(stats.NumLiveQueries)
}

func (s *Session) closeMessages() {
	if s.messages.ChannelId() == "" {
		return
	}
	s.messages.Close()
	s.stats.Decr(stats.NumLiveQueries)
}

func (s *Session) reconcileMine(channels []database.Channel) {
	cleared := s.channels.ReconcileMine(channels)
	s.view.Channels(s.channels.Mine())
	s.view.Discoverable(s.channels.Discoverable())
	if cleared {
		s.closeMessages()
		s.view.Selection("")
	}
}

func (s *Session) reconcileAll(channels []database.Channel) {
	s.channels.ReconcileAll(channels)
	s.view.Discoverable(s.channels.Discoverable())
}

func (s *Session) reconcileMessages(messages []database.Message) {
	if s.messages.Reconcile(messages) {
		s.view.Messages(s.messages.ChannelId(), s.messages.Messages())
	}
}

func (s *Session) clearSelection() {
	if s.channels.Selected() == "" && s.messages.ChannelId() == "" {
		return
	}
	s.channels.ClearSelection()
	s.closeMessages()
	s.view.Selection("")
}

// handleIntent applies in and returns the response data.
func (s *Session) handleIntent(ctx context.Context, in Intent) (map[string]any, error) {
	switch in.Kind {
	case IntentSelect:
		return nil, s.selectChannel(ctx, in.ChannelId)
	case IntentSend:
		return s.sendMessage(ctx, in.ChannelId, in.Text)
	case IntentCreate:
		c, err := s.mutator.CreateChannel(ctx, in.Text, s.identity.UserId)
		if err != nil {
			return nil, err
		}
		return map[string]any{"channel_id": c.Id}, nil
	case IntentJoin:
		return nil, s.mutator.JoinChannel(ctx, in.ChannelId, s.identity.UserId)
	case IntentLeave:
		return nil, s.leaveChannel(ctx, in.ChannelId)
	case IntentDelete:
		return nil, s.deleteChannel(ctx, in.ChannelId)
	case IntentRemoveMember:
		return nil, s.removeMember(ctx, in.ChannelId, in.UserId)
	case IntentMembers:
		return nil, s.listMembers(ctx, in.ChannelId)
	case IntentSearchUsers:
		return nil, s.searchUsers(ctx, in.Text)
	case IntentDirect:
		return s.directChannel(ctx, in.UserId)
	}

	return nil, fmt.Errorf("unknown intent %q", in.Kind)
}

// report turns a failed intent into a notice. Validation failures stay
// silent and permission notices are raised by the handlers.
func (s *Session) report(err error) {
	var mutErr *MutationError
	if errors.As(err, &mutErr) {
		s.log.Printf("user %q: %v", s.identity.UserId, err)
		s.view.Notice(noticeFailed)
	}
}

func (s *Session) myChannel(channelId string) (database.Channel, error) {
	c, ok := lo.Find(s.channels.Mine(), func(c database.Channel) bool {
		return c.Id == channelId
	})
	if !ok {
		return database.Channel{}, database.ErrNotFound
	}
	return c, nil
}

func (s *Session) selectChannel(ctx context.Context, channelId string) error {
	if channelId == "" {
		s.clearSelection()
		return nil
	}
	if channelId == s.channels.Selected() {
		return nil
	}
	if !s.channels.Select(channelId) {
		return database.ErrNotFound
	}

	s.closeMessages()
	if err := s.messages.Switch(ctx, channelId); err != nil {
		s.channels.ClearSelection()
		s.view.Selection("")
		return &MutationError{Op: "open messages", Err: err}
	}
	s.stats.Incr(stats.NumLiveQueries)

	s.view.Selection(channelId)
	return nil
}

func (s *Session) sendMessage(ctx context.Context, channelId, text string) (map[string]any, error) {
	if channelId == "" {
		channelId = s.channels.Selected()
	}
	if _, err := s.myChannel(channelId); err != nil {
		return nil, err
	}

	m, err := s.mutator.SendMessage(ctx, channelId, s.identity.UserId, s.identity.DisplayName(), text)
	if err != nil {
		return nil, err
	}
	s.stats.Incr(stats.NumMessagesSent)

	return map[string]any{"message_id": m.Id}, nil
}

func (s *Session) leaveChannel(ctx context.Context, channelId string) error {
	c, err := s.myChannel(channelId)
	if err != nil {
		return err
	}
	if c.CreatorId == s.identity.UserId {
		s.view.Notice(noticeCreatorLeave)
		return ErrPermissionDenied
	}

	if err := s.mutator.LeaveChannel(ctx, channelId, s.identity.UserId); err != nil {
		return err
	}

	s.clearSelection()
	return nil
}

func (s *Session) deleteChannel(ctx context.Context, channelId string) error {
	err := s.mutator.DeleteChannel(ctx, channelId, s.identity.UserId)
	if errors.Is(err, ErrPermissionDenied) {
		s.view.Notice(noticeDeleteNotCreator)
	}
	if err != nil {
		return err
	}

	s.clearSelection()
	return nil
}

func (s *Session) removeMember(ctx context.Context, channelId, targetUserId string) error {
	c, err := s.myChannel(channelId)
	if err != nil {
		return err
	}
	switch {
	case targetUserId == c.CreatorId:
		s.view.Notice(noticeRemoveCreator)
		return ErrPermissionDenied
	case targetUserId != s.identity.UserId && c.CreatorId != s.identity.UserId:
		s.view.Notice(noticeRemoveNotCreator)
		return ErrPermissionDenied
	}

	if err := s.mutator.RemoveMember(ctx, channelId, targetUserId); err != nil {
		return err
	}

	if targetUserId == s.identity.UserId && s.channels.Selected() == channelId {
		s.clearSelection()
	}
	return nil
}

func (s *Session) listMembers(ctx context.Context, channelId string) error {
	c, err := s.myChannel(channelId)
	if err != nil {
		return err
	}

	members := make([]database.User, 0, len(c.Members))
	for _, id := range c.Members {
		u, err := s.db.GetUserById(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return &MutationError{Op: "list members", Err: err}
		}
		members = append(members, u)
	}

	s.view.Members(channelId, members)
	return nil
}

func (s *Session) searchUsers(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrValidation
	}

	users, err := s.db.SearchUsers(ctx, query)
	if err != nil {
		return &MutationError{Op: "search users", Err: err}
	}

	s.view.Users(lo.Filter(users, func(u database.User, _ int) bool {
		return u.Id != s.identity.UserId
	}))
	return nil
}

// directChannel creates a two-member channel with otherUserId.
func (s *Session) directChannel(ctx context.Context, otherUserId string) (map[string]any, error) {
	if otherUserId == "" || otherUserId == s.identity.UserId {
		return nil, ErrValidation
	}

	other, err := s.db.GetUserById(ctx, otherUserId)
	if errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &MutationError{Op: "direct channel", Err: err}
	}

	name := other.Nickname
	if name == "" {
		name = other.Email
	}

	c, err := s.mutator.CreateChannel(ctx, "Chat with "+name, s.identity.UserId, other.Id)
	if err != nil {
		return nil, err
	}

	return map[string]any{"channel_id": c.Id}, nil
}
