package taskqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/petrijr/extask/pkg/api"
)

// InMemoryQueue is a Queue kept in process memory. It is safe for
// concurrent use.
type InMemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*Task
	seq   int64
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{tasks: make(map[string]*Task)}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[t.ID]; ok {
		return fmt.Errorf("%w: task %q already exists", api.ErrInvalidRequest, t.ID)
	}
	q.seq++
	c := t.clone()
	c.seq = q.seq
	q.tasks[t.ID] = &c
	return nil
}

func (q *InMemoryQueue) Claim(ctx context.Context, c Claim) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]*Task, 0)
	for _, t := range q.tasks {
		if t.fetchable(c.Now) {
			candidates = append(candidates, t)
		}
	}
	sortCandidates(candidates, c.UsePriority)

	cl := newClaimer(c)
	var out []Task
	for _, t := range candidates {
		if cl.done() {
			break
		}
		if cl.take(t) {
			out = append(out, t.clone())
		}
	}
	return out, nil
}

func (q *InMemoryQueue) Get(ctx context.Context, id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrTaskNotFound, id)
	}
	c := t.clone()
	return &c, nil
}

func (q *InMemoryQueue) Update(ctx context.Context, id string, fn func(*Task) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrTaskNotFound, id)
	}
	c := t.clone()
	if err := fn(&c); err != nil {
		return err
	}
	c.seq = t.seq
	q.tasks[id] = &c
	return nil
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Status == StatusOpen {
			n++
		}
	}
	return n
}
