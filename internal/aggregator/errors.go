package aggregator

import "errors"

var (
	// ErrNoWorkers means the worker set resolved to nothing. Clients can fix
	// it by configuring workers.
	ErrNoWorkers = errors.New("no workers configured")
	// ErrNotFound means workers were asked but none returned a record.
	ErrNotFound = errors.New("not found")
)

// Error pairs one of the sentinels above with the message shown to clients.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string { return e.Detail }

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, detail string) error {
	return &Error{Kind: kind, Detail: detail}
}
