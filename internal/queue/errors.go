package queue

import "errors"

var (
	// ErrDuplicateJob is returned when enqueueing with a caller-supplied id
	// that collides with an existing job.
	ErrDuplicateJob = errors.New("job id already exists")

	// ErrJobNotFound is returned when an operation references a job id that
	// does not exist in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotInDLQ is returned when retrying a job that is not currently in
	// the dead-letter queue.
	ErrNotInDLQ = errors.New("job is not in the dead letter queue")

	// ErrInvalidTransition is returned when a state change is requested that
	// the job lifecycle does not permit.
	ErrInvalidTransition = errors.New("invalid job state transition")
)
