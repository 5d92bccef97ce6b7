package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects blank message text and blank channel names
	// before anything is written.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied rejects an operation reserved to the channel
	// creator.
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnauthenticated  = errors.New("not signed in")
)

// MutationError is a failed store operation.
type MutationError struct {
	Op  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
