package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTransportErrorMatchesKindAndCause(t *testing.T) {
	err := fmt.Errorf("resolve: %w", Transport("telegram getFile", context.DeadlineExceeded))

	if !errors.Is(err, ErrTransport) {
		t.Errorf("expected errors.Is(err, ErrTransport) to hold")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the underlying cause to be reachable")
	}
	if errors.Is(err, ErrHandleNotFound) {
		t.Errorf("transport error must not match ErrHandleNotFound")
	}

	var te *TransportError
	if !errors.As(err, &te) || te.Op != "telegram getFile" {
		t.Errorf("expected TransportError with op, got %v", err)
	}
}
