package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-chatsync/internal/live"
)

const (
	changeChannel        = "chat_changes"
	minReconnectInterval = 10 * time.Second
	maxReconnectInterval = time.Minute
	listenerPingInterval = 90 * time.Second
)

// PgChatRepository stores documents in Postgres. Triggers publish every
// change on the chat_changes channel, and a pq.Listener feeds those
// notifications to the live queries, so writes from any process reach every
// subscriber.
type PgChatRepository struct {
	conn         *sql.DB
	log          *log.Logger
	hub          *live.Hub
	listener     *pq.Listener
	stop         chan struct{}
	listenerDone chan struct{}
}

func NewPgChatRepository(dsn string, logger *log.Logger) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	repo := &PgChatRepository{
		conn:         db,
		log:          logger,
		hub:          live.NewHub(),
		stop:         make(chan struct{}),
		listenerDone: make(chan struct{}),
	}

	repo.listener = pq.NewListener(dsn, minReconnectInterval, maxReconnectInterval, repo.listenerEvent)
	if err := repo.listener.Listen(changeChannel); err != nil {
		repo.listener.Close()
		db.Close()
		return nil, fmt.Errorf("listen %s: %w", changeChannel, err)
	}

	go repo.forwardChanges()

	return repo, nil
}

func (db *PgChatRepository) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		db.log.Println("change listener disconnected:", err)
	case pq.ListenerEventConnectionAttemptFailed:
		db.log.Println("change listener reconnect failed:", err)
	case pq.ListenerEventReconnected:
		db.log.Println("change listener reconnected")
	}
}

func (db *PgChatRepository) forwardChanges() {
	defer close(db.listenerDone)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-db.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// the connection was re-established and notifications may
				// have been missed, re-evaluate every live query
				db.hub.NotifyAll()
				continue
			}
			db.hub.Notify(n.Extra)
		case <-ticker.C:
			go func() {
				if err := db.listener.Ping(); err != nil {
					db.log.Println("change listener ping:", err)
				}
			}()
		case <-db.stop:
			return
		}
	}
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	close(db.stop)
	if err := db.listener.Close(); err != nil {
		db.log.Println("close change listener:", err)
	}
	<-db.listenerDone

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgChatRepository) WatchChannels(ctx context.Context, member string) (*live.Subscription[[]Channel], error) {
	return live.Open(ctx, db.hub, db.log, ChannelsTopic, func(ctx context.Context) ([]Channel, error) {
		return db.ListChannels(ctx, member)
	})
}

func (db *PgChatRepository) WatchMessages(ctx context.Context, channelId string) (*live.Subscription[[]Message], error) {
	return live.Open(ctx, db.hub, db.log, MessagesTopic(channelId), func(ctx context.Context) ([]Message, error) {
		return db.ListMessages(ctx, channelId)
	})
}
