package api

import (
	"errors"
	"fmt"
)

var (
	// ErrLockExpired is returned when a report or lock extension is rejected
	// because the reporting worker no longer holds the task's lock.
	ErrLockExpired = errors.New("task lock expired")

	// ErrTaskNotFound is returned for reports on tasks the coordinator no
	// longer knows as open, e.g. because they were already completed.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidRequest is returned for requests the coordinator refuses to
	// process, such as a fetch without a worker id.
	ErrInvalidRequest = errors.New("invalid request")
)

// TransportError wraps a failure to reach the coordinator at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError is a non-success reply from the coordinator that does not
// map onto one of the sentinel errors.
type ResponseError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ResponseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("coordinator replied %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("coordinator replied %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when retried.
func (e *ResponseError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// IsRetryable reports whether an error returned by a Coordinator is worth
// retrying. Lock and task errors are final.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrLockExpired) || errors.Is(err, ErrTaskNotFound) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Temporary()
	}
	return false
}
