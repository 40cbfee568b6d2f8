package worker

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateSubscription is returned when a topic already has an open
	// subscription on the worker.
	ErrDuplicateSubscription = errors.New("worker: topic already subscribed")

	// ErrInvalidSubscription is returned by Open for incomplete subscriptions.
	ErrInvalidSubscription = errors.New("worker: invalid subscription")

	// ErrAlreadyStarted is returned by Start when the fetch loop runs.
	ErrAlreadyStarted = errors.New("worker: already started")

	// ErrDuplicateTask is returned when a task is submitted while an
	// execution for the same task id is still in flight.
	ErrDuplicateTask = errors.New("worker: task already in flight")

	// ErrNoCapacity is returned when a fetched task cannot be admitted.
	ErrNoCapacity = errors.New("worker: no capacity")

	// ErrShutdownTimeout is returned by Close when in-flight executions did
	// not finish within the shutdown timeout.
	ErrShutdownTimeout = errors.New("worker: shutdown timed out")
)

// BpmnError signals a business fault. Returning it from a Handler reports a
// BPMN error with Code instead of a failure.
type BpmnError struct {
	Code      string
	Message   string
	Variables map[string]any
}

// NewBpmnError creates a BpmnError.
func NewBpmnError(code, message string) *BpmnError {
	return &BpmnError{Code: code, Message: message}
}

// WithVariables attaches variables to be reported with the error.
func (e *BpmnError) WithVariables(vars map[string]any) *BpmnError {
	e.Variables = vars
	return e
}

func (e *BpmnError) Error() string {
	if e.Message == "" {
		return "bpmn error " + e.Code
	}
	return fmt.Sprintf("bpmn error %s: %s", e.Code, e.Message)
}

// FailureError carries explicit retry hints for a failure report.
type FailureError struct {
	Err          error
	Details      string
	Retries      *int
	RetryTimeout time.Duration
}

// Fail wraps err into a failure that is retried the given number of
// times, each after retryTimeout.
func Fail(err error, retries int, retryTimeout time.Duration) *FailureError {
	return &FailureError{Err: err, Retries: &retries, RetryTimeout: retryTimeout}
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return "task failed"
	}
	return e.Err.Error()
}

func (e *FailureError) Unwrap() error { return e.Err }

// HandlerError is a fault inside a handler: a panic, or an output that
// could not be encoded.
type HandlerError struct {
	TaskID string
	Topic  string
	Panic  any
	Stack  []byte
	Err    error
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler for topic %q panicked on task %s: %v", e.Topic, e.TaskID, e.Panic)
	}
	return fmt.Sprintf("handler for topic %q on task %s: %v", e.Topic, e.TaskID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
