package server

import (
	"context"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestChatServer(t *testing.T, db database.ChatRepository, su *stats.MockStatsUpdater) *ChatServer {
	su.On("RegisterMetric", mock.Anything).Return().Times(4)

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	if err != nil {
		t.Fatalf("failed to create test ChatServer: %v", err)
	}
	return cs
}

func TestNewChatServer(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", stats.NumActiveClients).Return().Once()
	su.On("RegisterMetric", stats.NumActiveSessions).Return().Once()
	su.On("RegisterMetric", stats.NumLiveQueries).Return().Once()
	su.On("RegisterMetric", stats.NumMessagesSent).Return().Once()

	logger := testutil.TestLogger(t)
	cs, err := NewChatServer(logger, db, su)
	assert.NoError(t, err, "expected no error creating ChatServer")
	assert.NotNil(t, cs, "expected ChatServer to be non-nil")
	assert.Equal(t, logger, cs.log, "expected logger to be set")
	assert.Equal(t, db, cs.db, "expected database repository to be set")
	assert.NotNil(t, cs.RegisterChan, "expected RegisterChan to be initialized")
	assert.NotNil(t, cs.deRegisterChan, "expected deRegisterChan to be initialized")
	assert.NotNil(t, cs.stop, "expected stop channel to be initialized")
	assert.NotNil(t, cs.clients, "expected clients map to be initialized")
}

func TestChatServerShutdown(t *testing.T) {
	t.Run("successful shutdown", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		go func() {
			select {
			case req := <-cs.stop:
				assert.NotNil(t, req.done, "expected done channel in stop request")
				close(req.done)
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.NoError(t, err, "expected successful shutdown without error")
	})

	t.Run("fails with context deadline exceeded", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		go func() {
			select {
			case <-cs.stop:
				// never acknowledge
			case <-time.After(100 * time.Millisecond):
				t.Error("expected signal on stop chan")
			}
		}()

		err := cs.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "expected context deadline exceeded error, got %v", err)
	})

	t.Run("fails when the loop is not running", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		assert.ErrorIs(t, cs.Shutdown(ctx), context.DeadlineExceeded)
	})
}

func TestChatServerShutdown_Integration(t *testing.T) {
	t.Run("no clients", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
		go cs.Run()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, cs.Shutdown(ctx), "expected successful shutdown without error")

		select {
		case <-cs.done:
		default:
			t.Error("expected done to be closed")
		}
	})

	t.Run("stops registered clients", func(t *testing.T) {
		cs, repo, url := startTestServer(t)

		alice, err := repo.CreateUser(context.Background(), database.CreateUserParams{Nickname: "alice", Email: "alice@example.com"})
		assert.NoError(t, err)

		a := dial(t, url, alice.Id)
		a.until(func(m *ServerMessage) bool { return m.Identity != nil && m.Identity.State == "authenticated" })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, cs.Shutdown(ctx))
		assert.Equal(t, 0, cs.NumClients())

		a.conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := a.conn.ReadMessage(); err != nil {
				break
			}
		}
	})
}

func TestChatServer_addClient_removeClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
	c := &Client{}

	cs.addClient(c)
	assert.Equal(t, 1, cs.NumClients(), "expected client to be added")

	assert.True(t, cs.removeClient(c), "expected client to be removed")
	assert.Equal(t, 0, cs.NumClients())

	assert.False(t, cs.removeClient(c), "expected removing an unknown client to report false")
}

func TestChatServer_RegisterAfterStop(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, &stats.MockStatsUpdater{})
	go cs.Run()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, cs.Shutdown(ctx))

	err := cs.Register(&Client{})
	assert.ErrorIs(t, err, ErrServerStopped)
}
