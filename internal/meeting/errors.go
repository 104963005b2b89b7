package meeting

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout      = errors.New("timeout")
	ErrDisconnected = errors.New("disconnected from the signaling server")
	ErrNotInRoom    = errors.New("not in a room")
	ErrNotHost      = errors.New("only the host can approve entrants")
	ErrNoPending    = errors.New("nobody is waiting to be admitted")
	ErrNoSession    = errors.New("no session id received yet")
)

// Error records the meeting operation that failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
