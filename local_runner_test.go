package extask

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/variables"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWorkerConfig(e *variables.Engine) WorkerConfig {
	return WorkerConfig{
		Engine:       e,
		Logger:       discardLogger(),
		IdleInterval: 5 * time.Millisecond,
		Backoff:      ConstantBackoff(time.Millisecond).Policy(),
	}
}

// waitResult returns the next result delivered on ch.
func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a task result")
		return Result{}
	}
}

func TestLocalRunner_ProcessesTasks(t *testing.T) {
	ctx := context.Background()
	runner := NewLocalRunner(testWorkerConfig(nil))
	results := make(chan Result, 4)

	runner.Worker.Subscribe("greet").
		LockDuration(10 * time.Second).
		OnResult(func(r Result) { results <- r }).
		Handler(func(ctx context.Context, task *ExternalTask) (map[string]any, error) {
			name, err := variables.Get[string](task.Variables, "name")
			if err != nil {
				return nil, err
			}
			return map[string]any{"greeting": "Hello, " + name}, nil
		}).
		MustOpen()

	require.NoError(t, runner.Start(ctx))
	require.Error(t, runner.Start(ctx), "second Start should fail")
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	id, err := runner.CreateTask(ctx, "greet",
		variables.Map{"name": variables.String("Gopher")},
		WithBusinessKey("order-1"),
		WithPriority(3),
	)
	require.NoError(t, err)

	r := waitResult(t, results)
	require.Equal(t, OutcomeComplete, r.Outcome)
	require.NoError(t, r.Err)
	require.Equal(t, "order-1", r.Task.BusinessKey)
	require.EqualValues(t, 3, r.Task.Priority)

	rec, err := runner.Task(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)

	out := variables.NewDefaultEngine().MapFromWire(rec.Variables)
	greeting, err := variables.Get[string](out, "greeting")
	require.NoError(t, err)
	require.Equal(t, "Hello, Gopher", greeting)

	require.NoError(t, runner.Stop(ctx))
	require.NoError(t, runner.Stop(ctx), "Stop is idempotent")
}

func TestLocalRunner_FailuresAndBpmnErrors(t *testing.T) {
	ctx := context.Background()
	runner := NewLocalRunner(testWorkerConfig(nil))
	results := make(chan Result, 4)

	runner.Worker.Subscribe("risky").
		OnResult(func(r Result) { results <- r }).
		Handler(func(ctx context.Context, task *ExternalTask) (map[string]any, error) {
			switch task.BusinessKey {
			case "reject":
				return nil, NewBpmnError("REJECTED", "credit check failed")
			default:
				return nil, Fail(io.ErrUnexpectedEOF, 0, 0)
			}
		}).
		MustOpen()

	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	rejected, err := runner.CreateTask(ctx, "risky", nil, WithBusinessKey("reject"))
	require.NoError(t, err)
	broken, err := runner.CreateTask(ctx, "risky", nil, WithBusinessKey("break"))
	require.NoError(t, err)

	outcomes := map[string]Outcome{}
	for range 2 {
		r := waitResult(t, results)
		require.NoError(t, r.Err)
		outcomes[r.Task.ID] = r.Outcome
	}
	require.Equal(t, OutcomeBpmnError, outcomes[rejected])
	require.Equal(t, OutcomeFailure, outcomes[broken])

	rec, err := runner.Task(ctx, rejected)
	require.NoError(t, err)
	require.Equal(t, StatusBpmnError, rec.Status)
	require.Equal(t, "REJECTED", rec.ErrorCode)

	rec, err = runner.Task(ctx, broken)
	require.NoError(t, err)
	require.Equal(t, StatusIncident, rec.Status, "zero retries turns the task into an incident")
	require.Contains(t, rec.ErrorMessage, "unexpected EOF")
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

// A handler that outlives its lock has its outcome discarded: the report is
// rejected, surfaced as lock expired, and the task is handed out again.
func TestLocalRunner_LockExpiredDuringHandler(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	runner := newRunner(taskqueue.NewInMemoryQueue(), testWorkerConfig(nil), taskqueue.Config{
		Now:          clock.Now,
		PollInterval: 5 * time.Millisecond,
		Logger:       discardLogger(),
	})

	started := make(chan string, 4)
	release := make(chan struct{})
	results := make(chan Result, 4)

	var calls sync.Map
	runner.Worker.Subscribe("slow").
		LockDuration(10 * time.Second).
		MaxTasks(1).
		OnResult(func(r Result) { results <- r }).
		Handler(func(ctx context.Context, task *ExternalTask) (map[string]any, error) {
			n, _ := calls.LoadOrStore(task.ID, new(int))
			*n.(*int)++
			started <- task.ID
			if *n.(*int) == 1 {
				<-release
			}
			return nil, nil
		}).
		MustOpen()

	require.NoError(t, runner.Start(ctx))
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	id, err := runner.CreateTask(ctx, "slow", nil)
	require.NoError(t, err)

	select {
	case got := <-started:
		require.Equal(t, id, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never started")
	}

	clock.Advance(11 * time.Second)
	close(release)

	r := waitResult(t, results)
	require.Equal(t, OutcomeLockExpired, r.Outcome)
	require.ErrorIs(t, r.Err, ErrLockExpired)
	require.False(t, IsRetryable(r.Err))

	// The task is still open and gets fetched and completed again.
	r = waitResult(t, results)
	require.Equal(t, OutcomeComplete, r.Outcome)
	require.Equal(t, id, r.Task.ID)

	rec, err := runner.Task(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, rec.Status)
}
