package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

// Config controls a Coordinator.
type Config struct {
	// Now returns the current time used for lock bookkeeping. Defaults to
	// time.Now; tests inject a fake clock to expire locks.
	Now func() time.Time

	// PollInterval bounds how long a long-polling fetch sleeps before it
	// re-checks for tasks whose lock or retry timeout elapsed. Defaults to
	// 50ms.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Coordinator is an embedded implementation of api.Coordinator on top of a
// Queue. It is used by the local runner, by tests, and by the
// "extask coordinator" command behind the REST handler.
type Coordinator struct {
	queue  Queue
	now    func() time.Time
	poll   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	notify chan struct{}
}

// Ensure Coordinator implements api.Coordinator.
var _ api.Coordinator = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator serving the tasks in q.
func NewCoordinator(q Queue, cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{
		queue:  q,
		now:    cfg.Now,
		poll:   cfg.PollInterval,
		logger: cfg.Logger.With("component", "coordinator"),
		notify: make(chan struct{}),
	}
}

// Queue returns the underlying task store.
func (c *Coordinator) Queue() Queue { return c.queue }

// Enqueue adds an open task and wakes long-polling fetches. An empty ID is
// replaced by a random UUID. The task's id is returned.
func (c *Coordinator) Enqueue(ctx context.Context, t Task) (string, error) {
	if t.TopicName == "" {
		return "", fmt.Errorf("%w: topic name is required", api.ErrInvalidRequest)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = StatusOpen
	t.WorkerID = ""
	t.LockExpiration = time.Time{}
	t.EnqueuedAt = c.now()
	if err := c.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	c.wake()
	return t.ID, nil
}

// Get returns the stored state of a task.
func (c *Coordinator) Get(ctx context.Context, id string) (*Task, error) {
	return c.queue.Get(ctx, id)
}

func (c *Coordinator) FetchAndLock(ctx context.Context, req api.FetchRequest) ([]api.LockedTask, error) {
	if req.WorkerID == "" {
		return nil, fmt.Errorf("%w: worker id is required", api.ErrInvalidRequest)
	}
	if req.MaxTasks <= 0 || len(req.Topics) == 0 {
		return nil, nil
	}
	claim := Claim{
		WorkerID:    req.WorkerID,
		MaxTasks:    req.MaxTasks,
		UsePriority: req.UsePriority,
	}
	filters := make(map[string][]string, len(req.Topics))
	for _, tr := range req.Topics {
		if tr.LockDuration <= 0 {
			return nil, fmt.Errorf("%w: topic %q needs a positive lock duration", api.ErrInvalidRequest, tr.TopicName)
		}
		claim.Topics = append(claim.Topics, TopicLock{
			TopicName:    tr.TopicName,
			LockDuration: tr.LockDuration,
			MaxTasks:     tr.MaxTasks,
		})
		filters[tr.TopicName] = tr.Variables
	}

	deadline := time.Now().Add(req.AsyncResponseTimeout)
	for {
		wake := c.waitChan()

		claim.Now = c.now()
		tasks, err := c.queue.Claim(ctx, claim)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			out := make([]api.LockedTask, len(tasks))
			for i := range tasks {
				out[i] = lockedTask(&tasks[i], filters[tasks[i].TopicName])
			}
			c.logger.DebugContext(ctx, "tasks locked",
				slog.String("worker_id", req.WorkerID),
				slog.Int("tasks", len(out)),
			)
			return out, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(min(remaining, c.poll))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (c *Coordinator) Complete(ctx context.Context, req api.CompleteRequest) error {
	return c.queue.Update(ctx, req.TaskID, func(t *Task) error {
		if err := c.checkLock(t, req.WorkerID); err != nil {
			return err
		}
		t.Status = StatusCompleted
		t.Variables = merge(t.Variables, req.Variables)
		t.LocalVariables = merge(t.LocalVariables, req.LocalVariables)
		release(t)
		return nil
	})
}

func (c *Coordinator) HandleFailure(ctx context.Context, req api.FailureRequest) error {
	if req.Retries < 0 || req.RetryTimeout < 0 {
		return fmt.Errorf("%w: retries and retry timeout must not be negative", api.ErrInvalidRequest)
	}
	reopened := false
	err := c.queue.Update(ctx, req.TaskID, func(t *Task) error {
		if err := c.checkLock(t, req.WorkerID); err != nil {
			return err
		}
		retries := req.Retries
		t.Retries = &retries
		t.ErrorMessage = req.ErrorMessage
		t.ErrorDetails = req.ErrorDetails
		release(t)
		if retries == 0 {
			t.Status = StatusIncident
			return nil
		}
		t.NotBefore = c.now().Add(req.RetryTimeout)
		reopened = true
		return nil
	})
	if err == nil && reopened {
		c.wake()
	}
	return err
}

func (c *Coordinator) HandleBpmnError(ctx context.Context, req api.BpmnErrorRequest) error {
	if req.ErrorCode == "" {
		return fmt.Errorf("%w: error code is required", api.ErrInvalidRequest)
	}
	return c.queue.Update(ctx, req.TaskID, func(t *Task) error {
		if err := c.checkLock(t, req.WorkerID); err != nil {
			return err
		}
		t.Status = StatusBpmnError
		t.ErrorCode = req.ErrorCode
		t.ErrorMessage = req.ErrorMessage
		t.Variables = merge(t.Variables, req.Variables)
		release(t)
		return nil
	})
}

func (c *Coordinator) ExtendLock(ctx context.Context, req api.ExtendLockRequest) error {
	if req.NewDuration <= 0 {
		return fmt.Errorf("%w: lock duration must be positive", api.ErrInvalidRequest)
	}
	return c.queue.Update(ctx, req.TaskID, func(t *Task) error {
		if err := c.checkLock(t, req.WorkerID); err != nil {
			return err
		}
		t.LockExpiration = c.now().Add(req.NewDuration)
		return nil
	})
}

func (c *Coordinator) Unlock(ctx context.Context, taskID string) error {
	err := c.queue.Update(ctx, taskID, func(t *Task) error {
		if t.Status != StatusOpen {
			return fmt.Errorf("%w: %s is %s", api.ErrTaskNotFound, t.ID, t.Status)
		}
		release(t)
		return nil
	})
	if err == nil {
		c.wake()
	}
	return err
}

// checkLock verifies that workerID still holds t.
func (c *Coordinator) checkLock(t *Task, workerID string) error {
	if t.Status != StatusOpen {
		return fmt.Errorf("%w: %s is %s", api.ErrTaskNotFound, t.ID, t.Status)
	}
	now := c.now()
	if t.WorkerID != workerID {
		return fmt.Errorf("%w: task %s is locked by %q", api.ErrLockExpired, t.ID, t.WorkerID)
	}
	if !t.Locked(now) {
		return fmt.Errorf("%w: lock of task %s expired at %s", api.ErrLockExpired, t.ID, t.LockExpiration.Format(time.RFC3339Nano))
	}
	return nil
}

// waitChan returns a channel closed by the next wake.
func (c *Coordinator) waitChan() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}

func (c *Coordinator) wake() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.notify)
	c.notify = make(chan struct{})
}

func release(t *Task) {
	t.WorkerID = ""
	t.LockExpiration = time.Time{}
}

func merge(dst, src map[string]variables.Wire) map[string]variables.Wire {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]variables.Wire, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

func lockedTask(t *Task, filter []string) api.LockedTask {
	vars := t.Variables
	if filter != nil {
		vars = make(map[string]variables.Wire, len(filter))
		for _, name := range filter {
			if w, ok := t.Variables[name]; ok {
				vars[name] = w
			}
		}
	}
	return api.LockedTask{
		ID:                   t.ID,
		TopicName:            t.TopicName,
		WorkerID:             t.WorkerID,
		LockExpirationTime:   t.LockExpiration,
		ProcessInstanceID:    t.ProcessInstanceID,
		ProcessDefinitionID:  t.ProcessDefinitionID,
		ProcessDefinitionKey: t.ProcessDefinitionKey,
		ActivityID:           t.ActivityID,
		ActivityInstanceID:   t.ActivityInstanceID,
		ExecutionID:          t.ExecutionID,
		BusinessKey:          t.BusinessKey,
		TenantID:             t.TenantID,
		Retries:              t.Retries,
		ErrorMessage:         t.ErrorMessage,
		ErrorDetails:         t.ErrorDetails,
		Priority:             t.Priority,
		Variables:            vars,
	}
}
