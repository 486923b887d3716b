// Package persistence provides standardized error types for job store operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrJobNotFound indicates a job was not found by the given identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyExists indicates a job with the same identifier already exists.
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrDeadLetterNotFound indicates no dead-letter job exists for the given identifier.
	ErrDeadLetterNotFound = errors.New("dead-letter job not found")

	// ErrUnsupportedDatabase indicates the database URL scheme has no job store.
	ErrUnsupportedDatabase = errors.New("unsupported database")
)

// JobError wraps job-related errors with additional context.
type JobError struct {
	Op    string // Operation being performed (e.g., "Insert", "Lock", "Delete")
	JobID string // Job ID if applicable
	Err   error  // Underlying error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s operation failed for job %s: %v", e.Op, e.JobID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for job errors.
func (e *JobError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewJobError creates a new job error with context.
func NewJobError(op, jobID string, err error) *JobError {
	return &JobError{
		Op:    op,
		JobID: jobID,
		Err:   err,
	}
}

// IsJobNotFound checks if an error indicates a job was not found.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

// IsDeadLetterNotFound checks if an error indicates a dead-letter job was not found.
func IsDeadLetterNotFound(err error) bool {
	return errors.Is(err, ErrDeadLetterNotFound)
}
