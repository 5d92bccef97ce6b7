package server

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Snapshot kinds. A queued snapshot replaces any pending one of the same
// kind, so a slow connection always ends on the latest state.
const (
	kindIdentity     = "identity"
	kindChannels     = "channels"
	kindDiscoverable = "discoverable"
	kindSelection    = "selection"
	kindMessages     = "messages"
)

type outboxEntry struct {
	kind string
	msg  *ServerMessage
}

// outbox is a client's send queue. Messages without a kind are bounded by
// limit; snapshots are bounded by the number of kinds.
type outbox struct {
	mu      sync.Mutex
	pending []outboxEntry
	queued  int
	limit   int
	ready   chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends msg. A snapshot moves to the back of the queue, dropping
// the pending snapshot of its kind. push reports false when a message
// without a kind finds the queue full.
func (o *outbox) push(kind string, msg *ServerMessage) bool {
	o.mu.Lock()
	if kind == "" {
		if o.queued >= o.limit {
			o.mu.Unlock()
			return false
		}
		o.queued++
	} else {
		o.pending = slices.DeleteFunc(o.pending, func(e outboxEntry) bool {
			return e.kind == kind
		})
	}
	o.pending = append(o.pending, outboxEntry{kind: kind, msg: msg})
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}

	return true
}

// drain empties the queue and returns its messages in order.
func (o *outbox) drain() []*ServerMessage {
	o.mu.Lock()
	pending := o.pending
	o.pending = nil
	o.queued = 0
	o.mu.Unlock()

	return lo.Map(pending, func(e outboxEntry, _ int) *ServerMessage {
		return e.msg
	})
}
