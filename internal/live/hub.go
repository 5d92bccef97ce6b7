package live

import "sync"

// Hub fans change notifications out to the live queries watching a topic.
// Stores call Notify after every committed write.
type Hub struct {
	mu       sync.Mutex
	nextId   int
	watchers map[string]map[int]func()
}

func NewHub() *Hub {
	return &Hub{
		watchers: make(map[string]map[int]func()),
	}
}

func (h *Hub) watch(topic string, wake func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextId++
	id := h.nextId
	if h.watchers[topic] == nil {
		h.watchers[topic] = make(map[int]func())
	}
	h.watchers[topic][id] = wake

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if ws, ok := h.watchers[topic]; ok {
			delete(ws, id)
			if len(ws) == 0 {
				delete(h.watchers, topic)
			}
		}
	}
}

// Notify wakes every watcher of the given topics. It never blocks.
func (h *Hub) Notify(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		for _, wake := range h.watchers[topic] {
			wake()
		}
	}
}

// NotifyAll wakes every watcher, used after the change feed was interrupted
// and notifications may have been lost.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ws := range h.watchers {
		for _, wake := range ws {
			wake()
		}
	}
}

// Watchers returns the number of open watchers on topic.
func (h *Hub) Watchers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.watchers[topic])
}
