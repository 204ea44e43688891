package models

import (
	"errors"
	"fmt"
)

// ErrJobNotFound marks a job that does not exist or has expired. It is a
// normal outcome, not a system failure.
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports malformed input or an illegal state transition.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// TransientError wraps a store failure worth retrying: connection trouble,
// timeouts, throttling. Store adapters classify, the retry layer checks.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient store error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// PersistenceError is surfaced once the retry budget against the durable
// store is exhausted. It wraps the last underlying failure.
type PersistenceError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyError is surfaced when post-completion verification against
// the durable store spent its retry budget without seeing a terminal
// record. Callers should try again shortly.
type ConsistencyError struct {
	JobID    string
	Attempts int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("job %s not yet visible as completed after %d checks", e.JobID, e.Attempts)
}
