package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrTimeout is returned when a blocking call exceeds its duration budget.
	ErrTimeout = errors.New("lifecycle: timeout")
	// ErrFaulted is returned by every operation on a Faulted object.
	ErrFaulted = errors.New("lifecycle: object is faulted")
	// ErrDisposed is returned by operations attempted after Close or Abort.
	ErrDisposed = errors.New("lifecycle: object is closed")
	// ErrInvalidState is returned when an operation is not legal in the current state.
	ErrInvalidState = errors.New("lifecycle: invalid state")
)

// Timeout wraps cause so that it matches ErrTimeout while keeping the cause.
func Timeout(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrTimeout, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrTimeout, op, cause)
}

// FromContext converts the error of a finished context: an expired deadline
// becomes a timeout, cancellation is returned unchanged.
func FromContext(op string, ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(op, err)
	}
	return err
}

// IsTimeout reports whether err is a budget expiry. Deadline errors coming
// straight from the standard library count as well.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
