package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 256
)

var validate = validator.New()

// Client is one websocket connection. It renders the state of the chat
// app running for the connection as server messages.
type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	app        *chat.App
	out        *outbox
	stopOnce   sync.Once
	stop       chan struct{}
}

func NewClient(conn *websocket.Conn, cs *ChatServer, provider session.Provider, l *log.Logger) *Client {
	c := &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		out:        newOutbox(sendQueueSize),
		stop:       make(chan struct{}),
	}
	c.app = chat.NewApp(cs.db, provider, c, l, cs.stats)

	return c
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case <-c.out.ready:
			for _, msg := range c.out.drain() {
				bytes, err := serializeMessage(msg)
				if err != nil {
					c.log.Println("failed to serialize message:", err)
					continue
				}

				if !c.sendMessage(websocket.TextMessage, bytes) {
					return
				}
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		c.queueMessage(ErrInvalidMessage(-1))
		return
	}

	in, err := parseIntent(&msg)
	if err != nil {
		c.log.Printf("invalid message %d: %v", msg.Id, err)
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if !c.app.Submit(in) {
		c.log.Printf("intent queue full, dropping %s", in.Kind)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func parseIntent(msg *ClientMessage) (chat.Intent, error) {
	p, in, err := msg.payload()
	if err != nil {
		return chat.Intent{}, err
	}
	if err := validate.Struct(p); err != nil {
		return chat.Intent{}, err
	}
	return in, nil
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	if !c.out.push("", msg) {
		c.log.Println("failed to send message to client, queue is full")
		return false
	}

	return true
}

func (c *Client) queueSnapshot(kind string, msg *ServerMessage) {
	c.out.push(kind, msg)
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup stops the chat app, which releases every live query of the
// connection, then drops the client from the server.
func (c *Client) cleanup() {
	c.app.Stop()

	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
	}
	c.stopClient()
}

func (c *Client) Identity(state session.State, identity *session.Identity) {
	msg := event()
	msg.Identity = &Identity{State: state.String()}
	if identity != nil {
		msg.Identity.User = &types.User{
			Id:       identity.UserId,
			Nickname: identity.Nickname,
			Email:    identity.Email,
		}
	}
	c.queueSnapshot(kindIdentity, msg)
}

func (c *Client) Channels(mine []database.Channel) {
	msg := event()
	msg.Channels = &ChannelList{Channels: channelsView(mine)}
	c.queueSnapshot(kindChannels, msg)
}

func (c *Client) Discoverable(channels []database.Channel) {
	msg := event()
	msg.Discoverable = &ChannelList{Channels: channelsView(channels)}
	c.queueSnapshot(kindDiscoverable, msg)
}

func (c *Client) Selection(channelId string) {
	msg := event()
	msg.Selection = &Selection{ChannelId: channelId}
	c.queueSnapshot(kindSelection, msg)
}

func (c *Client) Messages(channelId string, messages []database.Message) {
	msg := event()
	msg.Messages = &MessageList{ChannelId: channelId, Messages: messagesView(messages)}
	c.queueSnapshot(kindMessages, msg)
}

func (c *Client) Members(channelId string, members []database.User) {
	msg := event()
	msg.Members = &MemberList{ChannelId: channelId, Members: usersView(members)}
	c.queueMessage(msg)
}

func (c *Client) Users(users []database.User) {
	msg := event()
	msg.Users = &UserList{Users: usersView(users)}
	c.queueMessage(msg)
}

func (c *Client) Notice(text string) {
	msg := event()
	msg.Notice = &Notice{Text: text}
	c.queueMessage(msg)
}

func (c *Client) Response(id int, data map[string]any, err error) {
	c.queueMessage(responseFor(id, data, err))
}
