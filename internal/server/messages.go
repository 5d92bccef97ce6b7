package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage carries exactly one intent.
type ClientMessage struct {
	BaseMessage
	Select       *ChannelRef   `json:"select,omitempty"`
	Send         *Send         `json:"send,omitempty"`
	Create       *Create       `json:"create,omitempty"`
	Join         *ChannelRef   `json:"join,omitempty"`
	Leave        *ChannelRef   `json:"leave,omitempty"`
	Delete       *ChannelRef   `json:"delete,omitempty"`
	RemoveMember *RemoveMember `json:"remove_member,omitempty"`
	Members      *ChannelRef   `json:"members,omitempty"`
	SearchUsers  *SearchUsers  `json:"search_users,omitempty"`
	Direct       *Direct       `json:"direct,omitempty"`
	SignOut      *SignOut      `json:"sign_out,omitempty"`
}

type ChannelRef struct {
	ChannelId string `json:"channel_id" validate:"required"`
}

type Send struct {
	ChannelId string `json:"channel_id"`
	Text      string `json:"text" validate:"max=4096"`
}

type Create struct {
	Name string `json:"name" validate:"max=128"`
}

type RemoveMember struct {
	ChannelId string `json:"channel_id" validate:"required"`
	UserId    string `json:"user_id" validate:"required"`
}

type SearchUsers struct {
	Query string `json:"query" validate:"max=128"`
}

type Direct struct {
	UserId string `json:"user_id" validate:"required"`
}

type SignOut struct{}

var errNoIntent = errors.New("message carries no intent")

// payload returns the single intent payload of the message and the intent
// built from it.
func (m *ClientMessage) payload() (any, chat.Intent, error) {
	in := chat.Intent{Id: m.Id}

	var (
		p     any
		count int
	)
	set := func(kind chat.IntentKind, v any) {
		in.Kind = kind
		p = v
		count++
	}

	if m.Select != nil {
		set(chat.IntentSelect, m.Select)
		in.ChannelId = m.Select.ChannelId
	}
	if m.Send != nil {
		set(chat.IntentSend, m.Send)
		in.ChannelId, in.Text = m.Send.ChannelId, m.Send.Text
	}
	if m.Create != nil {
		set(chat.IntentCreate, m.Create)
		in.Text = m.Create.Name
	}
	if m.Join != nil {
		set(chat.IntentJoin, m.Join)
		in.ChannelId = m.Join.ChannelId
	}
	if m.Leave != nil {
		set(chat.IntentLeave, m.Leave)
		in.ChannelId = m.Leave.ChannelId
	}
	if m.Delete != nil {
		set(chat.IntentDelete, m.Delete)
		in.ChannelId = m.Delete.ChannelId
	}
	if m.RemoveMember != nil {
		set(chat.IntentRemoveMember, m.RemoveMember)
		in.ChannelId, in.UserId = m.RemoveMember.ChannelId, m.RemoveMember.UserId
	}
	if m.Members != nil {
		set(chat.IntentMembers, m.Members)
		in.ChannelId = m.Members.ChannelId
	}
	if m.SearchUsers != nil {
		set(chat.IntentSearchUsers, m.SearchUsers)
		in.Text = m.SearchUsers.Query
	}
	if m.Direct != nil {
		set(chat.IntentDirect, m.Direct)
		in.UserId = m.Direct.UserId
	}
	if m.SignOut != nil {
		set(chat.IntentSignOut, m.SignOut)
	}

	if count != 1 {
		return nil, chat.Intent{}, errNoIntent
	}
	return p, in, nil
}

type ServerMessage struct {
	BaseMessage
	Response     *Response    `json:"response,omitempty"`
	Identity     *Identity    `json:"identity,omitempty"`
	Channels     *ChannelList `json:"channels,omitempty"`
	Discoverable *ChannelList `json:"discoverable,omitempty"`
	Selection    *Selection   `json:"selection,omitempty"`
	Messages     *MessageList `json:"messages,omitempty"`
	Members      *MemberList  `json:"members,omitempty"`
	Users        *UserList    `json:"users,omitempty"`
	Notice       *Notice      `json:"notice,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Identity struct {
	State string      `json:"state"`
	User  *types.User `json:"user,omitempty"`
}

type ChannelList struct {
	Channels []types.Channel `json:"channels"`
}

type Selection struct {
	ChannelId string `json:"channel_id"`
}

type MessageList struct {
	ChannelId string          `json:"channel_id"`
	Messages  []types.Message `json:"messages"`
}

type MemberList struct {
	ChannelId string       `json:"channel_id"`
	Members   []types.User `json:"members"`
}

type UserList struct {
	Users []types.User `json:"users"`
}

type Notice struct {
	Text string `json:"text"`
}

func event() *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func newErrResponse(id int, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrChannelNotFound(id int) *ServerMessage {
	return newErrResponse(id, http.StatusNotFound, "channel not found")
}

func ErrPermissionDenied(id int) *ServerMessage {
	return newErrResponse(id, http.StatusForbidden, "permission denied")
}

func ErrUnauthorized(id int) *ServerMessage {
	return newErrResponse(id, http.StatusUnauthorized, "unauthorized")
}

func ErrInternalError(id int) *ServerMessage {
	return newErrResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newErrResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newErrResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

// responseFor maps the outcome of an intent to its response.
func responseFor(id int, data map[string]any, err error) *ServerMessage {
	switch {
	case err == nil:
		if len(data) == 0 {
			return NoErrOK(id, nil)
		}
		return NoErrOK(id, data)
	case errors.Is(err, chat.ErrValidation):
		return ErrInvalidMessage(id)
	case errors.Is(err, chat.ErrPermissionDenied):
		return ErrPermissionDenied(id)
	case errors.Is(err, chat.ErrUnauthenticated):
		return ErrUnauthorized(id)
	case errors.Is(err, database.ErrNotFound):
		return ErrChannelNotFound(id)
	}
	return ErrInternalError(id)
}

func userView(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Nickname:  u.Nickname,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func usersView(users []database.User) []types.User {
	out := make([]types.User, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u))
	}
	return out
}

func channelsView(channels []database.Channel) []types.Channel {
	out := make([]types.Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, types.Channel{
			Id:        c.Id,
			Name:      c.Name,
			CreatorId: c.CreatorId,
			Members:   c.Members,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}

func messagesView(messages []database.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, types.Message{
			Id:        m.Id,
			ChannelId: m.ChannelId,
			Text:      m.Text,
			UserId:    m.UserId,
			UserName:  m.UserName,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
