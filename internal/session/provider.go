package session

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/npezzotti/go-chatsync/internal/database"
)

type State int

const (
	Loading State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Identity is the signed-in user.
type Identity struct {
	UserId   string
	Nickname string
	Email    string
}

// DisplayName is the name stamped on sent messages: the nickname, or the
// email address when no nickname was set.
func (i Identity) DisplayName() string {
	if i.Nickname != "" {
		return i.Nickname
	}
	return i.Email
}

// Provider reports identity transitions. onChange receives nil once the
// user is signed out.
type Provider interface {
	Subscribe(onChange func(*Identity)) (unsubscribe func())
	SignOut(ctx context.Context) error
}

// TokenProvider resolves the user id carried by a connection's auth token
// into an identity. It starts in the loading state and settles once the
// user document was read.
type TokenProvider struct {
	mu       sync.Mutex
	log      *log.Logger
	state    State
	identity *Identity
	nextId   int
	subs     map[int]func(*Identity)
}

// NewTokenProvider starts resolving userId in the background. An empty
// userId settles immediately as unauthenticated.
func NewTokenProvider(ctx context.Context, db database.ChatRepository, userId string, logger *log.Logger) *TokenProvider {
	p := &TokenProvider{
		log:   logger,
		state: Loading,
		subs:  make(map[int]func(*Identity)),
	}

	if userId == "" {
		p.settle(nil)
		return p
	}

	go func() {
		u, err := db.GetUserById(ctx, userId)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				p.log.Printf("resolve identity %q: %v", userId, err)
			}
			p.settle(nil)
			return
		}
		p.settle(&Identity{UserId: u.Id, Nickname: u.Nickname, Email: u.Email})
	}()

	return p
}

func (p *TokenProvider) settle(identity *Identity) {
	p.mu.Lock()
	if p.state != Loading {
		p.mu.Unlock()
		return
	}
	p.set(identity)
}

// set must be called with p.mu held; it releases the lock before calling
// subscribers.
func (p *TokenProvider) set(identity *Identity) {
	p.identity = identity
	if identity != nil {
		p.state = Authenticated
	} else {
		p.state = Unauthenticated
	}

	subs := make([]func(*Identity), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(identity)
	}
}

// Subscribe registers onChange. When the identity is already known
// onChange is called with it before Subscribe returns.
func (p *TokenProvider) Subscribe(onChange func(*Identity)) func() {
	p.mu.Lock()
	p.nextId++
	id := p.nextId
	p.subs[id] = onChange
	state, identity := p.state, p.identity
	p.mu.Unlock()

	if state != Loading {
		onChange(identity)
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *TokenProvider) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.state == Unauthenticated {
		p.mu.Unlock()
		return nil
	}
	p.set(nil)

	return nil
}

func (p *TokenProvider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
