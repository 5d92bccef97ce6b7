package server

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/stats"
)

var ErrServerStopped = errors.New("chat server stopped")

type stopReq struct {
	done chan struct{}
}

// ChatServer tracks the connected clients and starts the chat app of
// each registered client.
type ChatServer struct {
	log            *log.Logger
	db             database.ChatRepository
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	clientsLock    sync.Mutex
	RegisterChan   chan *Client
	deRegisterChan chan *Client
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ChatRepository, su stats.StatsProvider) (*ChatServer, error) {
	su.RegisterMetric(stats.NumActiveClients)
	su.RegisterMetric(stats.NumActiveSessions)
	su.RegisterMetric(stats.NumLiveQueries)
	su.RegisterMetric(stats.NumMessagesSent)

	return &ChatServer{
		log:            logger,
		db:             db,
		stats:          su,
		clients:        make(map[*Client]struct{}),
		RegisterChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection from %s", client.conn.RemoteAddr())
			cs.addClient(client)
			cs.stats.Incr(stats.NumActiveClients)
			go client.app.Run(context.Background())
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection from %s", client.conn.RemoteAddr())
			if cs.removeClient(client) {
				cs.stats.Decr(stats.NumActiveClients)
			}
		case req := <-cs.stop:
			cs.log.Println("shutting down clients")
			for c := range cs.clients {
				c.app.Stop()
				c.stopClient()
				cs.removeClient(c)
				cs.stats.Decr(stats.NumActiveClients)
			}

			close(cs.done)
			close(req.done)
			return
		}
	}
}

// Register hands c to the server, which starts its chat app. It fails
// once the server stopped.
func (cs *ChatServer) Register(c *Client) error {
	select {
	case cs.RegisterChan <- c:
		return nil
	case <-cs.done:
		return ErrServerStopped
	}
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	return true
}

func (cs *ChatServer) NumClients() int {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	return len(cs.clients)
}

// Shutdown stops every client and waits for the server loop to exit.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	req := stopReq{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
