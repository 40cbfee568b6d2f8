package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/extask/pkg/variables"
)

// LockedTask is a task as returned by FetchAndLock, with its variables
// still in wire form.
type LockedTask struct {
	ID                   string
	TopicName            string
	WorkerID             string
	LockExpirationTime   time.Time
	ProcessInstanceID    string
	ProcessDefinitionID  string
	ProcessDefinitionKey string
	ActivityID           string
	ActivityInstanceID   string
	ExecutionID          string
	BusinessKey          string
	TenantID             string
	Retries              *int
	ErrorMessage         string
	ErrorDetails         string
	Priority             int64
	Variables            map[string]variables.Wire
}

// ExternalTask is a locked task handed to a handler. Object variables are
// decoded on first read through the engine that built the task.
type ExternalTask struct {
	ID                   string
	TopicName            string
	WorkerID             string
	ProcessInstanceID    string
	ProcessDefinitionID  string
	ProcessDefinitionKey string
	ActivityID           string
	ActivityInstanceID   string
	ExecutionID          string
	BusinessKey          string
	TenantID             string
	Retries              *int
	ErrorMessage         string
	ErrorDetails         string
	Priority             int64
	Variables            variables.Map

	coordinator Coordinator

	mu                 sync.Mutex
	lockExpirationTime time.Time
}

// NewExternalTask converts a fetched task. c is used by ExtendLock and may
// be nil.
func NewExternalTask(lt LockedTask, e *variables.Engine, c Coordinator) *ExternalTask {
	return &ExternalTask{
		ID:                   lt.ID,
		TopicName:            lt.TopicName,
		WorkerID:             lt.WorkerID,
		ProcessInstanceID:    lt.ProcessInstanceID,
		ProcessDefinitionID:  lt.ProcessDefinitionID,
		ProcessDefinitionKey: lt.ProcessDefinitionKey,
		ActivityID:           lt.ActivityID,
		ActivityInstanceID:   lt.ActivityInstanceID,
		ExecutionID:          lt.ExecutionID,
		BusinessKey:          lt.BusinessKey,
		TenantID:             lt.TenantID,
		Retries:              lt.Retries,
		ErrorMessage:         lt.ErrorMessage,
		ErrorDetails:         lt.ErrorDetails,
		Priority:             lt.Priority,
		Variables:            e.MapFromWire(lt.Variables),
		coordinator:          c,
		lockExpirationTime:   lt.LockExpirationTime,
	}
}

// LockExpirationTime returns when the worker's lock on the task ends, as
// last known to this process.
func (t *ExternalTask) LockExpirationTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockExpirationTime
}

// Variable returns the materialized value of the named variable, decoding
// it if it is an object value.
func (t *ExternalTask) Variable(name string) (any, error) {
	return t.Variables.Value(name)
}

// VariableTyped returns the named variable with its type information. With
// deserialize false an object value is returned undecoded, exposing only
// its serialized form and metadata.
func (t *ExternalTask) VariableTyped(name string, deserialize bool) (variables.TypedValue, error) {
	return t.Variables.Typed(name, deserialize)
}

// ExtendLock asks the coordinator to keep the task locked for d from now.
func (t *ExternalTask) ExtendLock(ctx context.Context, d time.Duration) error {
	if t.coordinator == nil {
		return errors.New("api: task has no coordinator")
	}
	err := t.coordinator.ExtendLock(ctx, ExtendLockRequest{
		TaskID:      t.ID,
		WorkerID:    t.WorkerID,
		NewDuration: d,
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.lockExpirationTime = time.Now().Add(d)
	t.mu.Unlock()
	return nil
}
