package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-chatsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_DeliversInitialSnapshot(t *testing.T) {
	hub := NewHub()
	sub, err := Open(context.Background(), hub, testutil.TestLogger(t), "topic", func(ctx context.Context) ([]string, error) {
		return []string{"a"}, nil
	})
	require.NoError(t, err)
	defer sub.Cancel()

	got := testutil.Receive(t, sub.Updates(), time.Second)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, hub.Watchers("topic"), "expected one watcher registered")
	assert.Equal(t, "topic", sub.Topic())
}

func TestOpen_InitialQueryError(t *testing.T) {
	hub := NewHub()
	queryErr := errors.New("permission denied")

	sub, err := Open(context.Background(), hub, testutil.TestLogger(t), "topic", func(ctx context.Context) (int, error) {
		return 0, queryErr
	})
	assert.ErrorIs(t, err, queryErr)
	assert.Nil(t, sub)
	assert.Equal(t, 0, hub.Watchers("topic"), "expected no watcher left after failed open")
}

func TestSubscription_RequeriesOnNotify(t *testing.T) {
	hub := NewHub()
	var version atomic.Int64

	sub, err := Open(context.Background(), hub, testutil.TestLogger(t), "topic", func(ctx context.Context) (int64, error) {
		return version.Load(), nil
	})
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Equal(t, int64(0), testutil.Receive(t, sub.Updates(), time.Second))

	version.Store(1)
	hub.Notify("other-topic")
	testutil.NoReceive(t, sub.Updates(), 50*time.Millisecond)

	hub.Notify("topic")
	assert.Equal(t, int64(1), testutil.Receive(t, sub.Updates(), time.Second))

	version.Store(2)
	hub.NotifyAll()
	assert.Equal(t, int64(2), testutil.Receive(t, sub.Updates(), time.Second))
}

func TestSubscription_LastSnapshotWins(t *testing.T) {
	s := &Subscription[int]{updates: make(chan int, 1)}

	s.publish(1)
	s.publish(2)
	s.publish(3)

	assert.Len(t, s.updates, 1, "expected only one pending snapshot")
	assert.Equal(t, 3, <-s.updates, "expected newest snapshot to replace unread ones")
}

func TestSubscription_KeepsLastSnapshotOnQueryError(t *testing.T) {
	hub := NewHub()
	var fail atomic.Bool
	var version atomic.Int64

	sub, err := Open(context.Background(), hub, testutil.TestLogger(t), "topic", func(ctx context.Context) (int64, error) {
		if fail.Load() {
			return 0, errors.New("connection reset")
		}
		return version.Load(), nil
	})
	require.NoError(t, err)
	defer sub.Cancel()
	testutil.Receive(t, sub.Updates(), time.Second)

	fail.Store(true)
	hub.Notify("topic")
	testutil.NoReceive(t, sub.Updates(), 50*time.Millisecond)

	fail.Store(false)
	version.Store(7)
	hub.Notify("topic")
	assert.Equal(t, int64(7), testutil.Receive(t, sub.Updates(), time.Second))
}

func TestSubscription_Cancel(t *testing.T) {
	hub := NewHub()
	var calls atomic.Int64

	sub, err := Open(context.Background(), hub, testutil.TestLogger(t), "topic", func(ctx context.Context) (int64, error) {
		return calls.Add(1), nil
	})
	require.NoError(t, err)
	testutil.Receive(t, sub.Updates(), time.Second)

	sub.Cancel()
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected done to be closed after Cancel returns")
	}
	assert.Equal(t, 0, hub.Watchers("topic"), "expected watcher removed on cancel")

	hub.Notify("topic")
	testutil.NoReceive(t, sub.Updates(), 50*time.Millisecond)
	assert.Equal(t, int64(1), calls.Load(), "expected no query after cancel")

	// second cancel is a no-op
	sub.Cancel()
}

func TestSubscription_StopsWithParentContext(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := Open(ctx, hub, testutil.TestLogger(t), "topic", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)

	cancel()
	testutil.Receive(t, sub.Done(), time.Second)
	sub.Cancel()
}
