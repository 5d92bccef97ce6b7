package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			out: newOutbox(1),
			log: testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when queue is not full")

		select {
		case <-c.out.ready:
			assert.Len(t, c.out.drain(), 1, "expected a message to be sent to the client")
		default:
			t.Error("expected the write pump to be woken, but it was not")
		}
	})
	t.Run("queue full", func(t *testing.T) {
		c := &Client{
			out: newOutbox(1),
			log: testutil.TestLogger(t),
		}

		assert.True(t, c.queueMessage(&ServerMessage{}))
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when queue is full")
	})
}

func channelIds(msg *ServerMessage) []string {
	ids := make([]string, 0, len(msg.Channels.Channels))
	for _, c := range msg.Channels.Channels {
		ids = append(ids, c.Id)
	}
	return ids
}

func TestClient_LatestSnapshotWins(t *testing.T) {
	t.Run("full queue keeps the newest snapshot", func(t *testing.T) {
		c := &Client{
			out: newOutbox(sendQueueSize),
			log: testutil.TestLogger(t),
		}

		for range sendQueueSize {
			c.Notice("busy")
		}
		assert.False(t, c.queueMessage(event()), "expected the queue to be full")

		for range sendQueueSize {
			c.Channels([]database.Channel{{Id: "old"}})
		}
		c.Channels([]database.Channel{{Id: "newest"}})

		msgs := c.out.drain()
		require.Len(t, msgs, sendQueueSize+1)

		var snapshots []*ServerMessage
		for _, msg := range msgs {
			if msg.Channels != nil {
				snapshots = append(snapshots, msg)
			}
		}
		require.Len(t, snapshots, 1, "expected one pending channels snapshot")
		assert.Equal(t, []string{"newest"}, channelIds(snapshots[0]))
		assert.Same(t, snapshots[0], msgs[len(msgs)-1], "expected the snapshot to be sent last")
	})
	t.Run("snapshot moves behind earlier responses", func(t *testing.T) {
		c := &Client{
			out: newOutbox(sendQueueSize),
			log: testutil.TestLogger(t),
		}

		c.Channels([]database.Channel{{Id: "a"}})
		c.Selection("a")
		c.Response(7, nil, nil)
		c.Channels([]database.Channel{{Id: "a"}, {Id: "b"}})

		msgs := c.out.drain()
		require.Len(t, msgs, 3)
		assert.Equal(t, "a", msgs[0].Selection.ChannelId)
		assert.Equal(t, 7, msgs[1].Id)
		require.NotNil(t, msgs[1].Response)
		assert.Equal(t, []string{"a", "b"}, channelIds(msgs[2]))
		assert.Empty(t, c.out.drain(), "expected drain to empty the queue")
	})
	t.Run("kinds are kept apart", func(t *testing.T) {
		c := &Client{
			out: newOutbox(sendQueueSize),
			log: testutil.TestLogger(t),
		}

		c.Channels(nil)
		c.Discoverable(nil)
		c.Messages("a", nil)
		c.Messages("b", nil)
		c.Identity(session.Authenticated, &session.Identity{UserId: "u1"})

		msgs := c.out.drain()
		require.Len(t, msgs, 4)
		assert.NotNil(t, msgs[0].Channels)
		assert.NotNil(t, msgs[1].Discoverable)
		assert.Equal(t, "b", msgs[2].Messages.ChannelId)
		assert.NotNil(t, msgs[3].Identity)
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	c.stopClient()

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func TestClient_View(t *testing.T) {
	c := &Client{
		out: newOutbox(16),
		log: testutil.TestLogger(t),
	}
	next := func() *ServerMessage {
		msgs := c.out.drain()
		require.Len(t, msgs, 1)
		return msgs[0]
	}

	c.Identity(session.Authenticated, &session.Identity{UserId: "u1", Nickname: "alice"})
	msg := next()
	require.NotNil(t, msg.Identity)
	assert.Equal(t, "authenticated", msg.Identity.State)
	assert.Equal(t, "u1", msg.Identity.User.Id)

	c.Identity(session.Unauthenticated, nil)
	msg = next()
	assert.Equal(t, "unauthenticated", msg.Identity.State)
	assert.Nil(t, msg.Identity.User)

	c.Selection("")
	msg = next()
	require.NotNil(t, msg.Selection)
	assert.Empty(t, msg.Selection.ChannelId)

	c.Messages("c1", nil)
	msg = next()
	require.NotNil(t, msg.Messages)
	assert.Equal(t, "c1", msg.Messages.ChannelId)
	assert.NotNil(t, msg.Messages.Messages)

	c.Notice("nope")
	msg = next()
	require.NotNil(t, msg.Notice)
	assert.Equal(t, "nope", msg.Notice.Text)
	assert.Nil(t, msg.Response, "expected events to carry no response")
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	next int
}

func (tc *testConn) send(body string) int {
	tc.t.Helper()

	tc.next++
	raw := `{"id":` + strconv.Itoa(tc.next) + `,` + body + `}`
	require.NoError(tc.t, tc.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	return tc.next
}

// until reads server messages up to the first one matching match.
func (tc *testConn) until(match func(*ServerMessage) bool) *ServerMessage {
	tc.t.Helper()

	tc.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := tc.conn.ReadMessage()
		require.NoError(tc.t, err, "expected a matching server message")

		var msg ServerMessage
		require.NoError(tc.t, json.Unmarshal(raw, &msg))
		if match(&msg) {
			return &msg
		}
	}
}

func (tc *testConn) response(id int) *Response {
	tc.t.Helper()
	msg := tc.until(func(m *ServerMessage) bool { return m.Response != nil && m.Id == id })
	return msg.Response
}

// member waits for the user's channel list to contain channelId.
func (tc *testConn) member(channelId string) {
	tc.t.Helper()
	tc.until(func(m *ServerMessage) bool {
		if m.Channels == nil {
			return false
		}
		for _, c := range m.Channels.Channels {
			if c.Id == channelId {
				return true
			}
		}
		return false
	})
}

func newTestStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()
	return su
}

// startTestServer serves websocket connections authenticated as the user
// given in the "user" query parameter.
func startTestServer(t *testing.T) (*ChatServer, *database.BadgerChatRepository, string) {
	t.Helper()

	logger := testutil.TestLogger(t)
	repo, err := database.NewBadgerChatRepository("", logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	cs, err := NewChatServer(logger, repo, newTestStats())
	require.NoError(t, err)
	go cs.Run()
	t.Cleanup(func() {
		select {
		case <-cs.done:
			return
		default:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		cs.Shutdown(ctx)
	})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		provider := session.NewTokenProvider(context.Background(), repo, r.URL.Query().Get("user"), logger)
		c := NewClient(conn, cs, provider, logger)
		if err := cs.Register(c); err != nil {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
	}))
	t.Cleanup(srv.Close)

	return cs, repo, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, userId string) *testConn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url+"?user="+userId, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testConn{t: t, conn: conn}
}

func TestClient_EndToEnd(t *testing.T) {
	ctx := context.Background()
	_, repo, url := startTestServer(t)

	alice, err := repo.CreateUser(ctx, database.CreateUserParams{Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	bob, err := repo.CreateUser(ctx, database.CreateUserParams{Nickname: "bob", Email: "bob@example.com"})
	require.NoError(t, err)

	a := dial(t, url, alice.Id)
	a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "authenticated" })

	id := a.send(`"create":{"name":"general"}`)
	res := a.response(id)
	require.Equal(t, http.StatusOK, res.ResponseCode)
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	channelId, _ := data["channel_id"].(string)
	require.NotEmpty(t, channelId)
	a.member(channelId)

	b := dial(t, url, bob.Id)
	b.until(func(m *ServerMessage) bool {
		return m.Discoverable != nil && len(m.Discoverable.Channels) == 1 && m.Discoverable.Channels[0].Id == channelId
	})

	id = b.send(`"send":{"channel_id":"` + channelId + `","text":"hi"}`)
	assert.Equal(t, http.StatusNotFound, b.response(id).ResponseCode, "expected non-members to be refused")

	id = b.send(`"join":{"channel_id":"` + channelId + `"}`)
	require.Equal(t, http.StatusOK, b.response(id).ResponseCode)
	b.member(channelId)
	id = b.send(`"select":{"channel_id":"` + channelId + `"}`)
	require.Equal(t, http.StatusOK, b.response(id).ResponseCode)

	id = a.send(`"select":{"channel_id":"` + channelId + `"}`)
	require.Equal(t, http.StatusOK, a.response(id).ResponseCode)
	id = a.send(`"send":{"text":"hello bob"}`)
	require.Equal(t, http.StatusOK, a.response(id).ResponseCode)

	msg := b.until(func(m *ServerMessage) bool { return m.Messages != nil && len(m.Messages.Messages) == 1 })
	assert.Equal(t, channelId, msg.Messages.ChannelId)
	assert.Equal(t, "hello bob", msg.Messages.Messages[0].Text)
	assert.Equal(t, "alice", msg.Messages.Messages[0].UserName)

	id = b.send(`"delete":{"channel_id":"` + channelId + `"}`)
	assert.Equal(t, http.StatusForbidden, b.response(id).ResponseCode)

	id = a.send(`"delete":{"channel_id":"` + channelId + `"}`)
	require.Equal(t, http.StatusOK, a.response(id).ResponseCode)
	b.until(func(m *ServerMessage) bool { return m.Selection != nil && m.Selection.ChannelId == "" })
}

func TestClient_InvalidMessages(t *testing.T) {
	ctx := context.Background()
	_, repo, url := startTestServer(t)

	alice, err := repo.CreateUser(ctx, database.CreateUserParams{Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	a := dial(t, url, alice.Id)
	a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "authenticated" })

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := a.until(func(m *ServerMessage) bool { return m.Response != nil })
	assert.Equal(t, http.StatusBadRequest, msg.Response.ResponseCode)

	id := a.send(`"join":{}`)
	assert.Equal(t, http.StatusBadRequest, a.response(id).ResponseCode)

	id = a.send(`"create":{"name":"general"}`)
	res := a.response(id)
	require.Equal(t, http.StatusOK, res.ResponseCode)
	channelId := res.Data.(map[string]any)["channel_id"].(string)
	a.member(channelId)

	id = a.send(`"send":{"channel_id":"` + channelId + `","text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, a.response(id).ResponseCode)

	id = a.send(`"send":{"text":"no channel selected"}`)
	assert.Equal(t, http.StatusNotFound, a.response(id).ResponseCode)
}

func TestClient_Unauthenticated(t *testing.T) {
	_, _, url := startTestServer(t)

	c := dial(t, url, "")
	c.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "unauthenticated" })

	id := c.send(`"create":{"name":"general"}`)
	assert.Equal(t, http.StatusUnauthorized, c.response(id).ResponseCode)
}

func TestClient_SignOut(t *testing.T) {
	ctx := context.Background()
	_, repo, url := startTestServer(t)

	alice, err := repo.CreateUser(ctx, database.CreateUserParams{Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	a := dial(t, url, alice.Id)
	a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "authenticated" })

	id := a.send(`"sign_out":{}`)
	assert.Equal(t, http.StatusOK, a.response(id).ResponseCode)
	a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "unauthenticated" })

	id = a.send(`"select":{"channel_id":"anything"}`)
	assert.Equal(t, http.StatusUnauthorized, a.response(id).ResponseCode)
}

func TestClient_DisconnectDeregisters(t *testing.T) {
	ctx := context.Background()
	cs, repo, url := startTestServer(t)

	alice, err := repo.CreateUser(ctx, database.CreateUserParams{Nickname: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	a := dial(t, url, alice.Id)
	a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "authenticated" })
	assert.Eventually(t, func() bool { return cs.NumClients() == 1 }, time.Second, 10*time.Millisecond)

	a.conn.Close()
	assert.Eventually(t, func() bool { return cs.NumClients() == 0 }, time.Second, 10*time.Millisecond)
}
