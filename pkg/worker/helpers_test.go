package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWorker creates a worker with fast timings that is closed when the
// test ends.
func newTestWorker(t *testing.T, c api.Coordinator, cfg Config) *Worker {
	t.Helper()
	if cfg.IdleInterval == 0 {
		cfg.IdleInterval = 5 * time.Millisecond
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	w := NewWithConfig(c, cfg)
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEmbeddedCoordinator(clock *fakeClock) *taskqueue.Coordinator {
	cfg := taskqueue.Config{PollInterval: 5 * time.Millisecond, Logger: discardLogger()}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return taskqueue.NewCoordinator(taskqueue.NewInMemoryQueue(), cfg)
}

// stubCoordinator records calls and lets tests script FetchAndLock.
type stubCoordinator struct {
	mu        sync.Mutex
	fetch     func(ctx context.Context, n int, req api.FetchRequest) ([]api.LockedTask, error)
	requests  []api.FetchRequest
	completes []api.CompleteRequest
	failures  []api.FailureRequest
	unlocks   []string

	completeErr func(n int) error
}

func (s *stubCoordinator) FetchAndLock(ctx context.Context, req api.FetchRequest) ([]api.LockedTask, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	fetch := s.fetch
	s.mu.Unlock()
	if fetch == nil {
		return nil, nil
	}
	return fetch(ctx, n, req)
}

func (s *stubCoordinator) Complete(ctx context.Context, req api.CompleteRequest) error {
	s.mu.Lock()
	s.completes = append(s.completes, req)
	n := len(s.completes)
	fn := s.completeErr
	s.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (s *stubCoordinator) HandleFailure(ctx context.Context, req api.FailureRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, req)
	return nil
}

func (s *stubCoordinator) HandleBpmnError(ctx context.Context, req api.BpmnErrorRequest) error {
	return nil
}

func (s *stubCoordinator) ExtendLock(ctx context.Context, req api.ExtendLockRequest) error {
	return nil
}

func (s *stubCoordinator) Unlock(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlocks = append(s.unlocks, taskID)
	return nil
}

func (s *stubCoordinator) snapshot() (reqs []api.FetchRequest, completes []api.CompleteRequest, unlocks []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.FetchRequest(nil), s.requests...),
		append([]api.CompleteRequest(nil), s.completes...),
		append([]string(nil), s.unlocks...)
}

// results collects Results delivered to OnResult.
type results struct {
	ch chan Result
}

func newResults() *results { return &results{ch: make(chan Result, 64)} }

func (r *results) add(res Result) { r.ch <- res }

func (r *results) next(t *testing.T) Result {
	t.Helper()
	select {
	case res := <-r.ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a task result")
		return Result{}
	}
}

func mustWire(t *testing.T, m variables.Map) map[string]variables.Wire {
	t.Helper()
	w, err := variables.MapToWire(m)
	if err != nil {
		t.Fatalf("MapToWire failed: %v", err)
	}
	return w
}
