package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/extask/pkg/api"
)

// blockingHandler counts invocations per task id and blocks until release
// is closed.
func blockingHandler(release <-chan struct{}, calls *atomic.Int32, seen chan<- string) Handler {
	return func(ctx context.Context, task *api.ExternalTask) (map[string]any, error) {
		calls.Add(1)
		seen <- task.ID
		<-release
		return nil, nil
	}
}

func TestWorker_RefetchedTaskInFlightRunsOnce(t *testing.T) {
	release := make(chan struct{})
	stub := &stubCoordinator{}
	stub.fetch = func(ctx context.Context, n int, req api.FetchRequest) ([]api.LockedTask, error) {
		if n <= 3 {
			return []api.LockedTask{
				{ID: "same", TopicName: "foo", WorkerID: req.WorkerID},
				{ID: "same", TopicName: "foo", WorkerID: req.WorkerID},
			}, nil
		}
		return nil, nil
	}

	var calls atomic.Int32
	seen := make(chan string, 16)
	w := newTestWorker(t, stub, Config{MaxTasks: 5})
	w.Subscribe("foo").Handler(blockingHandler(release, &calls, seen)).MustOpen()
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		reqs, _, _ := stub.snapshot()
		return len(reqs) >= 4
	}, 5*time.Second, time.Millisecond)

	require.Equal(t, int32(1), calls.Load())
	_, _, unlocks := stub.snapshot()
	require.Empty(t, unlocks, "a task held by a running execution must not be unlocked")

	close(release)
	require.Eventually(t, func() bool {
		_, completes, _ := stub.snapshot()
		return len(completes) == 1
	}, 5*time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, completes, unlocks := stub.snapshot()
	require.Len(t, completes, 1)
	require.Equal(t, "same", completes[0].TaskID)
	require.Empty(t, unlocks)
	require.Equal(t, int32(1), calls.Load())
}

func TestWorker_UnlocksTasksBeyondCapacity(t *testing.T) {
	release := make(chan struct{})
	stub := &stubCoordinator{}
	stub.fetch = func(ctx context.Context, n int, req api.FetchRequest) ([]api.LockedTask, error) {
		if n == 1 {
			// More tasks than requested.
			return []api.LockedTask{
				{ID: "a", TopicName: "foo"},
				{ID: "b", TopicName: "foo"},
				{ID: "c", TopicName: "foo"},
				{ID: "d", TopicName: "foo"},
			}, nil
		}
		return nil, nil
	}

	var calls atomic.Int32
	seen := make(chan string, 16)
	w := newTestWorker(t, stub, Config{MaxTasks: 2})
	w.Subscribe("foo").Handler(blockingHandler(release, &calls, seen)).MustOpen()
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, _, unlocks := stub.snapshot()
		return len(unlocks) == 2
	}, 5*time.Second, time.Millisecond)

	_, _, unlocks := stub.snapshot()
	require.Equal(t, []string{"c", "d"}, unlocks)

	close(release)
	require.Eventually(t, func() bool {
		_, completes, _ := stub.snapshot()
		return len(completes) == 2
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, int32(2), calls.Load())
}

func TestWorker_UnlocksTasksBeyondTopicLimit(t *testing.T) {
	release := make(chan struct{})
	stub := &stubCoordinator{}
	stub.fetch = func(ctx context.Context, n int, req api.FetchRequest) ([]api.LockedTask, error) {
		if n == 1 {
			return []api.LockedTask{
				{ID: "first", TopicName: "foo"},
				{ID: "second", TopicName: "foo"},
			}, nil
		}
		return nil, nil
	}

	var calls atomic.Int32
	seen := make(chan string, 16)
	w := newTestWorker(t, stub, Config{MaxTasks: 5})
	w.Subscribe("foo").MaxTasks(1).Handler(blockingHandler(release, &calls, seen)).MustOpen()
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, _, unlocks := stub.snapshot()
		return len(unlocks) == 1
	}, 5*time.Second, time.Millisecond)

	_, _, unlocks := stub.snapshot()
	require.Equal(t, []string{"second"}, unlocks)
	require.Equal(t, "first", <-seen)

	close(release)
	require.Eventually(t, func() bool {
		_, completes, _ := stub.snapshot()
		return len(completes) == 1
	}, 5*time.Second, time.Millisecond)
}

func TestWorker_UnlocksTasksForUnknownTopic(t *testing.T) {
	stub := &stubCoordinator{}
	stub.fetch = func(ctx context.Context, n int, req api.FetchRequest) ([]api.LockedTask, error) {
		if n == 1 {
			return []api.LockedTask{
				{ID: "stray", TopicName: "bar"},
				{ID: "ok", TopicName: "foo"},
			}, nil
		}
		return nil, nil
	}

	var calls atomic.Int32
	seen := make(chan string, 16)
	release := make(chan struct{})
	close(release)
	w := newTestWorker(t, stub, Config{MaxTasks: 5})
	w.Subscribe("foo").Handler(blockingHandler(release, &calls, seen)).MustOpen()
	require.NoError(t, w.Start(context.Background()))

	require.Eventually(t, func() bool {
		_, completes, unlocks := stub.snapshot()
		return len(completes) == 1 && len(unlocks) == 1
	}, 5*time.Second, time.Millisecond)

	_, completes, unlocks := stub.snapshot()
	require.Equal(t, []string{"stray"}, unlocks)
	require.Equal(t, "ok", completes[0].TaskID)
	require.Equal(t, int32(1), calls.Load())
}
