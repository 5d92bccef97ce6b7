package testutil

import (
	"log"
	"os"
	"testing"
	"time"
)

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test "+t.Name()+"] ", log.LstdFlags|log.Lmsgprefix)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// Receive waits up to d for a value on ch and fails the test otherwise.
func Receive[T any](t *testing.T, ch <-chan T, d time.Duration) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		t.Fatalf("timeout: nothing received within %s", d)
	}

	var zero T
	return zero
}

// NoReceive fails the test if a value arrives on ch within d.
func NoReceive[T any](t *testing.T, ch <-chan T, d time.Duration) {
	t.Helper()

	select {
	case v := <-ch:
		t.Fatalf("unexpected value received: %+v", v)
	case <-time.After(d):
	}
}
