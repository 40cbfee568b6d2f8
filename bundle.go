package extask

import (
	"context"
	"database/sql"

	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/variables"
	workerpkg "github.com/petrijr/extask/pkg/worker"
)

// WorkerBundle wires together a coordinator persisting its tasks in SQLite
// and a Worker fetching from it. Tasks and their locks survive restarts.
type WorkerBundle struct {
	Coordinator *taskqueue.Coordinator
	Worker      *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable coordinator and Worker sharing the
// provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:extask.db?_pragma=journal_mode(WAL)")
//	bundle, err := extask.NewSQLiteBundle(db, worker.Config{MaxTasks: 4})
//	// subscribe on bundle.Worker, create tasks via bundle.CreateTask
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config) (*WorkerBundle, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	c := taskqueue.NewCoordinator(q, taskqueue.Config{Logger: cfg.Logger})
	w := workerpkg.NewWithConfig(c, cfg)

	return &WorkerBundle{
		Coordinator: c,
		Worker:      w,
		queue:       q,
	}, nil
}

// CreateTask adds an open task on topic carrying vars and returns its id.
func (b *WorkerBundle) CreateTask(ctx context.Context, topic string, vars variables.Map, opts ...TaskOption) (string, error) {
	return createTask(ctx, b.Coordinator, topic, vars, opts)
}

// Task returns the stored state of a task.
func (b *WorkerBundle) Task(ctx context.Context, id string) (*TaskRecord, error) {
	return b.Coordinator.Get(ctx, id)
}
