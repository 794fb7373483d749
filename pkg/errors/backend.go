package errors

import (
	"context"
	"errors"
	"net"
)

// FromBackend classifies a raw client error returned by service. Errors that
// already carry a code pass through unchanged, as does caller cancellation.
// Deadlines and network timeouts become TimeoutError; everything else is a
// transient ServiceError.
func FromBackend(service string, err error) error {
	if err == nil {
		return nil
	}

	var customErr Error
	if errors.As(err, &customErr) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te := NewTimeoutError(service, "")
		te.cause = err
		return te
	}

	return NewServiceError(service, "", 0, err)
}
