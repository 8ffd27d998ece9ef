package coherent

import (
	"errors"
	"fmt"
)

var (
	ErrClosed    = errors.New("coherent: map closed")
	ErrNilStore  = errors.New("coherent: store is required")
	ErrEmptyName = errors.New("coherent: name is required")

	// ErrInvalidKey rejects a write whose key is empty or longer than 64 KiB.
	// Such a key could not be announced on the coherence channel.
	ErrInvalidKey = errors.New("coherent: key must be 1..65535 bytes")
)

// WriteError reports a write whose data reached the store only partly or
// whose coherence broadcast failed. When only PublishErr is set the data is
// stored and other clients may serve stale values until their next miss.
type WriteError struct {
	Key        string
	StoreErr   error
	PublishErr error
}

func (e *WriteError) Error() string {
	switch {
	case e.StoreErr != nil && e.PublishErr != nil:
		return fmt.Sprintf("write %q failed: store and publish failed: store=%v; publish=%v",
			e.Key, e.StoreErr, e.PublishErr)
	case e.StoreErr != nil:
		return fmt.Sprintf("write %q: store failed: %v", e.Key, e.StoreErr)
	case e.PublishErr != nil:
		return fmt.Sprintf("write %q: stored, coherence publish failed: %v", e.Key, e.PublishErr)
	default:
		return fmt.Sprintf("write %q: unknown error", e.Key)
	}
}

func (e *WriteError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	if e.PublishErr != nil {
		errs = append(errs, e.PublishErr)
	}
	return errs
}
