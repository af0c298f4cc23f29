package appointment

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrPastDateRejected    = errors.New("appointment date is in the past")
	ErrSlotAlreadyBooked   = errors.New("slot already has an active appointment")
	ErrInvalidParty        = errors.New("booking needs a signed-in patient or complete guest details")
	ErrInvalidSlot         = errors.New("slot does not match the service schedule")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrForbidden           = errors.New("actor may not perform this transition")
	ErrGenerationExhausted = errors.New("could not generate a unique booking id")
	ErrNotFound            = errors.New("appointment not found")
	ErrStorageTimeout      = errors.New("storage operation timed out")
)

// errBookingIDTaken is returned by a Repository when an insert lost the race
// for its booking id; the workflow draws a new one.
var errBookingIDTaken = errors.New("booking id already in use")

// Retryable reports whether a caller may safely repeat the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotAlreadyBooked) || errors.Is(err, ErrStorageTimeout)
}

// RetryOnce reports whether the whole operation may be repeated a single
// time. Booking id exhaustion is transient but also an operational alert, so
// it never counts as Retryable.
func RetryOnce(err error) bool {
	return errors.Is(err, ErrGenerationExhausted)
}

// timeoutErr wraps a storage error with op, turning an expired deadline into
// ErrStorageTimeout.
func timeoutErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrStorageTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}
