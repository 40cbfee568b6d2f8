package api

import (
	"context"
	"time"

	"github.com/petrijr/extask/pkg/variables"
)

// Coordinator is the central service that owns external tasks.
type Coordinator interface {
	// FetchAndLock locks up to req.MaxTasks open tasks on the requested
	// topics for req.WorkerID. With a positive AsyncResponseTimeout the call
	// blocks until at least one task is available or the timeout elapses;
	// an empty result is not an error.
	FetchAndLock(ctx context.Context, req FetchRequest) ([]LockedTask, error)

	// Complete marks a locked task as done.
	Complete(ctx context.Context, req CompleteRequest) error

	// HandleFailure reports a failed execution. With Retries > 0 the task
	// becomes fetchable again after RetryTimeout; with zero retries it is
	// parked as an incident.
	HandleFailure(ctx context.Context, req FailureRequest) error

	// HandleBpmnError reports a business fault.
	HandleBpmnError(ctx context.Context, req BpmnErrorRequest) error

	// ExtendLock sets the lock of a task held by req.WorkerID to expire
	// req.NewDuration from now.
	ExtendLock(ctx context.Context, req ExtendLockRequest) error

	// Unlock releases a task's lock so that it can be fetched again.
	Unlock(ctx context.Context, taskID string) error
}

// TopicRequest selects the tasks of one topic in a fetch.
type TopicRequest struct {
	TopicName    string
	LockDuration time.Duration

	// Variables limits the fetched variables to the named ones. Nil fetches
	// all variables, an empty non-nil slice fetches none.
	Variables []string

	// MaxTasks caps the tasks locked for this topic. Zero means no
	// per-topic cap. Coordinators that cannot express a per-topic cap only
	// honor FetchRequest.MaxTasks.
	MaxTasks int
}

// FetchRequest is one fetch-and-lock call.
type FetchRequest struct {
	WorkerID             string
	MaxTasks             int
	UsePriority          bool
	AsyncResponseTimeout time.Duration
	Topics               []TopicRequest
}

// CompleteRequest reports successful execution.
type CompleteRequest struct {
	TaskID         string
	WorkerID       string
	Variables      map[string]variables.Wire
	LocalVariables map[string]variables.Wire
}

// FailureRequest reports a failed execution.
type FailureRequest struct {
	TaskID       string
	WorkerID     string
	ErrorMessage string
	ErrorDetails string
	Retries      int
	RetryTimeout time.Duration
}

// BpmnErrorRequest reports a business fault.
type BpmnErrorRequest struct {
	TaskID       string
	WorkerID     string
	ErrorCode    string
	ErrorMessage string
	Variables    map[string]variables.Wire
}

// ExtendLockRequest prolongs a held lock.
type ExtendLockRequest struct {
	TaskID      string
	WorkerID    string
	NewDuration time.Duration
}
