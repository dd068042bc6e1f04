// Package apperr holds the error kinds shared by the pipeline stages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedPayload is returned when a job payload cannot be decoded
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrHandleNotFound is returned when an image handle resolves to no file path
	ErrHandleNotFound = errors.New("image handle not found")

	// ErrTransport matches any TransportError via errors.Is
	ErrTransport = errors.New("transport error")
)

// TransportError wraps a network-level failure against the broker or an HTTP service.
type TransportError struct {
	Op  string
	Err error
}

// Transport builds a TransportError for the given operation.
func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
