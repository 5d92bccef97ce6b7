package database

import (
	"slices"
	"strings"
	"time"
)

type User struct {
	Id           string    `json:"id"`
	Nickname     string    `json:"nickname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type Channel struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorId string    `json:"creator_id"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// HasMember reports whether userId is in the channel's member set.
func (c Channel) HasMember(userId string) bool {
	return slices.Contains(c.Members, userId)
}

type Message struct {
	Id        string    `json:"id"`
	ChannelId string    `json:"channel_id"`
	Text      string    `json:"text"`
	UserId    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateUserParams struct {
	Nickname     string
	Email        string
	PasswordHash string
}

type CreateChannelParams struct {
	Name      string
	CreatorId string
	// Members other than the creator, who is always a member.
	Members []string
}

type CreateMessageParams struct {
	ChannelId string
	UserId    string
	UserName  string
	Text      string
}

// CompareMessages orders messages by creation time, then by id.
func CompareMessages(a, b Message) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Id, b.Id)
}

func compareChannels(a, b Channel) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.Id, b.Id)
}
