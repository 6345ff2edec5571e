package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidInput marks malformed or empty input. Not retried; the
	// operation is surfaced to the caller as a no-op.
	ErrInvalidInput = goerr.New("invalid input")

	// ErrUnavailable marks a transient failure of the embedding provider or
	// the vector index. Eligible for a bounded retry.
	ErrUnavailable = goerr.New("service unavailable")
)

// IsRetryable reports whether the error represents a transient failure that
// may succeed on retry. Validation failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
