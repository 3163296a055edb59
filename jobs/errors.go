package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by Enqueue when the pending sequence is at capacity.
	ErrQueueFull = errors.New("jobs: queue is full")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("jobs: queue is closed")

	// ErrNotFound is returned when a job id is unknown or has been evicted.
	ErrNotFound = errors.New("jobs: job not found")

	// ErrNotCancellable is returned by Cancel for jobs that already left the pending sequence.
	ErrNotCancellable = errors.New("jobs: job is no longer queued")

	// ErrInvalidTransition indicates a state machine violation.
	ErrInvalidTransition = errors.New("jobs: invalid state transition")
)

// Rejection is a validation failure for one request field.
type Rejection struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Field, r.Reason)
}

func reject(field, format string, args ...any) *Rejection {
	return &Rejection{Field: field, Reason: fmt.Sprintf(format, args...)}
}
