package live

import (
	"context"
	"log"
	"sync"
)

// QueryFunc evaluates a live query and returns the full result set.
type QueryFunc[T any] func(ctx context.Context) (T, error)

// Subscription is a lazy, non-restartable stream of full query snapshots.
// The mailbox holds one value: a newer snapshot replaces an unread older one,
// so a slow consumer only ever sees the latest state.
type Subscription[T any] struct {
	topic   string
	updates chan T
	wakeC   chan struct{}
	cancel  context.CancelFunc
	unwatch func()
	once    sync.Once
	done    chan struct{}
}

// Open registers a live query on topic, evaluates it once and delivers the
// result, then re-evaluates it after every notification on the topic until
// the subscription is cancelled. An error from the first evaluation is
// returned and nothing is left registered.
func Open[T any](ctx context.Context, h *Hub, logger *log.Logger, topic string, query QueryFunc[T]) (*Subscription[T], error) {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Subscription[T]{
		topic:   topic,
		updates: make(chan T, 1),
		wakeC:   make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	// watch before the first read so a write landing in between is not lost
	s.unwatch = h.watch(topic, s.wake)

	first, err := query(runCtx)
	if err != nil {
		s.unwatch()
		cancel()
		return nil, err
	}
	s.publish(first)

	go s.run(runCtx, logger, query)

	return s, nil
}

// Updates delivers snapshots in store order.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Done is closed once the subscription stopped producing.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Cancel stops the subscription and returns only after the producer exited,
// so no snapshot is published after Cancel returns.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		s.unwatch()
		s.cancel()
	})
	<-s.done
}

func (s *Subscription[T]) wake() {
	select {
	case s.wakeC <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) run(ctx context.Context, logger *log.Logger, query QueryFunc[T]) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wakeC:
			snapshot, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// keep the last snapshot, the next notification retries
				logger.Printf("live query %q: %v", s.topic, err)
				continue
			}

			select {
			case <-ctx.Done():
				return
			default:
			}
			s.publish(snapshot)
		}
	}
}

// publish has a single producer, so the send after draining never blocks.
func (s *Subscription[T]) publish(v T) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- v
}
