package queue

import "errors"

var (
	// ErrClosed is returned when submitting to or popping from a closed queue.
	ErrClosed = errors.New("queue is closed")

	// ErrJobNotFound is returned when a status store has no entry for an ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownChain is returned when a job names a follow-up without handler.
	ErrUnknownChain = errors.New("no handler registered for chained job")
)
