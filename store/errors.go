package store

import (
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("store: closed")

	// ErrUnsupported is returned by backends that do not implement a collection kind.
	ErrUnsupported = errors.New("store: operation not supported by this backend")

	// ErrSlowSubscriber ends a subscription whose consumer fell too far behind.
	ErrSlowSubscriber = errors.New("store: subscriber too slow, subscription dropped")
)

// TransportError is a network or I/O failure talking to the remote store.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("store %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Transport wraps err as a *TransportError (nil stays nil).
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
