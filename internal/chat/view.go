package chat

import (
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/session"
)

// View receives every state change of a chat session. Implementations
// must not block.
type View interface {
	Identity(state session.State, identity *session.Identity)
	Channels(mine []database.Channel)
	Discoverable(channels []database.Channel)
	// Selection reports the selected channel id, empty when cleared.
	Selection(channelId string)
	Messages(channelId string, messages []database.Message)
	Members(channelId string, members []database.User)
	Users(users []database.User)
	// Notice is a blocking message the user has to acknowledge.
	Notice(text string)
	Response(id int, data map[string]any, err error)
}

type IntentKind string

const (
	IntentSelect       IntentKind = "select"
	IntentSend         IntentKind = "send"
	IntentCreate       IntentKind = "create"
	IntentJoin         IntentKind = "join"
	IntentLeave        IntentKind = "leave"
	IntentDelete       IntentKind = "delete"
	IntentRemoveMember IntentKind = "remove_member"
	IntentMembers      IntentKind = "members"
	IntentSearchUsers  IntentKind = "search_users"
	IntentDirect       IntentKind = "direct"
	IntentSignOut      IntentKind = "sign_out"
)

// Intent is a user action. Text carries the message text, the new channel
// name or the search query depending on Kind; UserId is the target of
// remove_member and direct.
type Intent struct {
	Id        int
	Kind      IntentKind
	ChannelId string
	UserId    string
	Text      string
}

const (
	noticeDeleteNotCreator = "only the channel creator can delete this channel"
	noticeCreatorLeave     = "the channel creator cannot leave, delete the channel instead"
	noticeRemoveCreator    = "the channel creator cannot be removed"
	noticeRemoveNotCreator = "only the channel creator can remove other members"
	noticeFailed           = "something went wrong, please try again"
)
