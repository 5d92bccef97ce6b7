package chat

import (
	"context"
	"log"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/stats"
)

const intentQueueSize = 256

// App ties a view to the identity reported by a session provider. While a
// user is signed in it runs a Session for them; signing out stops the
// session and every live query it holds. All state changes happen on the
// goroutine running Run.
type App struct {
	db        database.ChatRepository
	provider  session.Provider
	view      View
	log       *log.Logger
	stats     stats.StatsProvider
	identityC chan *session.Identity
	intents   chan Intent
	state     session.State
	session   *Session
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewApp(db database.ChatRepository, provider session.Provider, view View, logger *log.Logger, st stats.StatsProvider) *App {
	return &App{
		db:        db,
		provider:  provider,
		view:      view,
		log:       logger,
		stats:     st,
		identityC: make(chan *session.Identity, 8),
		intents:   make(chan Intent, intentQueueSize),
		state:     session.Loading,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run processes identity changes, intents and store snapshots until Stop
// is called or ctx is done.
func (a *App) Run(ctx context.Context) {
	defer close(a.done)

	a.view.Identity(session.Loading, nil)

	unsubscribe := a.provider.Subscribe(func(identity *session.Identity) {
		select {
		case a.identityC <- identity:
		case <-a.done:
		}
	})
	defer unsubscribe()
	defer a.closeSession()

	for {
		var (
			mine, all <-chan []database.Channel
			messages  <-chan []database.Message
		)
		if a.session != nil {
			mine = a.session.channels.MineUpdates()
			all = a.session.channels.AllUpdates()
			messages = a.session.messages.Updates()
		}

		select {
		case identity := <-a.identityC:
			a.handleIdentity(ctx, identity)
		case in := <-a.intents:
			a.handleIntent(ctx, in)
		case channels := <-mine:
			a.session.reconcileMine(channels)
		case channels := <-all:
			a.session.reconcileAll(channels)
		case msgs := <-messages:
			a.session.reconcileMessages(msgs)
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Submit queues an intent without blocking. It reports false when the
// queue is full or the app stopped.
func (a *App) Submit(in Intent) bool {
	select {
	case <-a.done:
		return false
	default:
	}

	select {
	case a.intents <- in:
		return true
	default:
		a.log.Println("intent queue full, dropping", in.Kind)
		return false
	}
}

// Stop ends Run and waits for every live query to be cancelled.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
}

func (a *App) Done() <-chan struct{} {
	return a.done
}

func (a *App) handleIdentity(ctx context.Context, identity *session.Identity) {
	a.closeSession()

	if identity == nil {
		a.state = session.Unauthenticated
		a.view.Identity(a.state, nil)
		return
	}

	a.state = session.Authenticated
	a.view.Identity(a.state, identity)

	s, err := openSession(ctx, *identity, a.db, a.view, a.log, a.stats)
	if err != nil {
		a.log.Printf("open session for %q: %v", identity.UserId, err)
		a.view.Notice(noticeFailed)
		return
	}
	a.session = s
	a.stats.Incr(stats.NumActiveSessions)
}

func (a *App) handleIntent(ctx context.Context, in Intent) {
	if in.Kind == IntentSignOut {
		err := a.provider.SignOut(ctx)
		if err != nil {
			a.log.Println("sign out:", err)
			a.view.Notice(noticeFailed)
		} else {
			a.closeSession()
		}
		a.view.Response(in.Id, nil, err)
		return
	}

	if a.session == nil {
		a.view.Response(in.Id, nil, ErrUnauthenticated)
		return
	}

	data, err := a.session.handleIntent(ctx, in)
	a.session.report(err)
	a.view.Response(in.Id, data, err)
}

func (a *App) closeSession() {
	if a.session == nil {
		return
	}
	a.session.close()
	a.session = nil
	a.stats.Decr(stats.NumActiveSessions)
}
