package extask

import (
	"context"
	"errors"
	"sync"

	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/variables"
	"github.com/petrijr/extask/pkg/worker"
)

// LocalRunner bundles an in-memory coordinator and a Worker fetching from
// it, for local development, tests and demos.
//
// Typical usage:
//
//	runner := extask.NewLocalRunner(extask.WorkerConfig{})
//	runner.Worker.Subscribe("invoice").Handler(handle).MustOpen()
//
//	_ = runner.Start(ctx)
//	id, _ := runner.CreateTask(ctx, "invoice", variables.Map{"amount": variables.Long(42)})
//	...
//	_ = runner.Stop(ctx)
type LocalRunner struct {
	// Coordinator owns the tasks and their locks.
	Coordinator *taskqueue.Coordinator

	// Worker fetches from Coordinator.
	Worker *worker.Worker

	mu      sync.Mutex
	running bool
}

// NewLocalRunner constructs a LocalRunner with an in-memory task store.
func NewLocalRunner(cfg worker.Config) *LocalRunner {
	return newRunner(taskqueue.NewInMemoryQueue(), cfg, taskqueue.Config{Logger: cfg.Logger})
}

func newRunner(q taskqueue.Queue, cfg worker.Config, ccfg taskqueue.Config) *LocalRunner {
	c := taskqueue.NewCoordinator(q, ccfg)
	return &LocalRunner{
		Coordinator: c,
		Worker:      worker.NewWithConfig(c, cfg),
	}
}

// Start starts the worker.
//
// If Start is called more than once without Stop, it returns an error.
func (r *LocalRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("extask: LocalRunner already started")
	}
	if err := r.Worker.Start(ctx); err != nil {
		return err
	}
	r.running = true
	return nil
}

// Stop closes the worker, waiting for in-flight tasks as configured by
// the worker's shutdown settings.
func (r *LocalRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	return r.Worker.Close(ctx)
}

// TaskOption customizes a task created with CreateTask.
type TaskOption func(*taskqueue.Task)

// WithBusinessKey sets the task's business key.
func WithBusinessKey(key string) TaskOption {
	return func(t *taskqueue.Task) { t.BusinessKey = key }
}

// WithPriority sets the task's priority.
func WithPriority(p int64) TaskOption {
	return func(t *taskqueue.Task) { t.Priority = p }
}

// WithProcessInstance sets the ids of the process the task belongs to.
func WithProcessInstance(instanceID, definitionKey string) TaskOption {
	return func(t *taskqueue.Task) {
		t.ProcessInstanceID = instanceID
		t.ProcessDefinitionKey = definitionKey
	}
}

// CreateTask adds an open task on topic carrying vars and returns its id.
func (r *LocalRunner) CreateTask(ctx context.Context, topic string, vars variables.Map, opts ...TaskOption) (string, error) {
	return createTask(ctx, r.Coordinator, topic, vars, opts)
}

// Task returns the stored state of a task.
func (r *LocalRunner) Task(ctx context.Context, id string) (*TaskRecord, error) {
	return r.Coordinator.Get(ctx, id)
}

func createTask(ctx context.Context, c *taskqueue.Coordinator, topic string, vars variables.Map, opts []TaskOption) (string, error) {
	wire, err := variables.MapToWire(vars)
	if err != nil {
		return "", err
	}
	t := taskqueue.Task{TopicName: topic, Variables: wire}
	for _, opt := range opts {
		opt(&t)
	}
	return c.Enqueue(ctx, t)
}
