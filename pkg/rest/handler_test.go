package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

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

// newServedCoordinator serves an in-memory coordinator over HTTP and
// returns a Client talking to it.
func newServedCoordinator(t *testing.T) (*taskqueue.Coordinator, *Client, *fakeClock, string) {
	t.Helper()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	coord := taskqueue.NewCoordinator(taskqueue.NewInMemoryQueue(), taskqueue.Config{
		Now:    clock.Now,
		Logger: discardLogger(),
	})
	srv := httptest.NewServer(NewHandler(coord, HandlerConfig{Logger: discardLogger()}))
	t.Cleanup(srv.Close)
	return coord, newTestClient(t, srv.URL), clock, srv.URL
}

func fooFetch(worker string) api.FetchRequest {
	return api.FetchRequest{
		WorkerID: worker,
		MaxTasks: 5,
		Topics:   []api.TopicRequest{{TopicName: "foo", LockDuration: 10 * time.Second}},
	}
}

func TestHandler_FetchExtendComplete(t *testing.T) {
	coord, c, clock, _ := newServedCoordinator(t)
	ctx := context.Background()

	id, err := coord.Enqueue(ctx, taskqueue.Task{
		TopicName:   "foo",
		BusinessKey: "order-7",
		Variables: map[string]variables.Wire{
			"name": {Type: variables.TypeString, Value: json.RawMessage(`"Ada"`)},
		},
	})
	require.NoError(t, err)

	tasks, err := c.FetchAndLock(ctx, fooFetch("w1"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, id, tasks[0].ID)
	require.Equal(t, "w1", tasks[0].WorkerID)
	require.Equal(t, "order-7", tasks[0].BusinessKey)
	require.True(t, tasks[0].LockExpirationTime.Equal(clock.Now().Add(10*time.Second)),
		"lock expiration %v", tasks[0].LockExpirationTime)
	require.JSONEq(t, `"Ada"`, string(tasks[0].Variables["name"].Value))

	require.NoError(t, c.ExtendLock(ctx, api.ExtendLockRequest{TaskID: id, WorkerID: "w1", NewDuration: time.Minute}))
	clock.Advance(30 * time.Second)

	require.NoError(t, c.Complete(ctx, api.CompleteRequest{
		TaskID:   id,
		WorkerID: "w1",
		Variables: map[string]variables.Wire{
			"greeting": {Type: variables.TypeString, Value: json.RawMessage(`"hello Ada"`)},
		},
	}))

	stored, err := coord.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, taskqueue.StatusCompleted, stored.Status)
	require.Contains(t, stored.Variables, "greeting")

	err = c.Complete(ctx, api.CompleteRequest{TaskID: id, WorkerID: "w1"})
	require.ErrorIs(t, err, api.ErrTaskNotFound)
}

func TestHandler_LockExpiredIsReported(t *testing.T) {
	coord, c, clock, _ := newServedCoordinator(t)
	ctx := context.Background()

	id, err := coord.Enqueue(ctx, taskqueue.Task{TopicName: "foo"})
	require.NoError(t, err)

	_, err = c.FetchAndLock(ctx, fooFetch("w1"))
	require.NoError(t, err)

	clock.Advance(11 * time.Second)

	err = c.Complete(ctx, api.CompleteRequest{TaskID: id, WorkerID: "w1"})
	require.ErrorIs(t, err, api.ErrLockExpired)
	require.False(t, api.IsRetryable(err))

	// The expired task is fetchable by another worker.
	tasks, err := c.FetchAndLock(ctx, fooFetch("w2"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "w2", tasks[0].WorkerID)
}

func TestHandler_FailureBpmnErrorUnlock(t *testing.T) {
	coord, c, clock, _ := newServedCoordinator(t)
	ctx := context.Background()

	failing, err := coord.Enqueue(ctx, taskqueue.Task{TopicName: "foo"})
	require.NoError(t, err)
	faulting, err := coord.Enqueue(ctx, taskqueue.Task{TopicName: "foo"})
	require.NoError(t, err)
	unlocked, err := coord.Enqueue(ctx, taskqueue.Task{TopicName: "foo"})
	require.NoError(t, err)

	tasks, err := c.FetchAndLock(ctx, fooFetch("w1"))
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	require.NoError(t, c.HandleFailure(ctx, api.FailureRequest{
		TaskID:       failing,
		WorkerID:     "w1",
		ErrorMessage: "boom",
		Retries:      1,
		RetryTimeout: 5 * time.Second,
	}))
	require.NoError(t, c.HandleBpmnError(ctx, api.BpmnErrorRequest{
		TaskID:    faulting,
		WorkerID:  "w1",
		ErrorCode: "E42",
	}))
	require.NoError(t, c.Unlock(ctx, unlocked))

	stored, err := coord.Get(ctx, faulting)
	require.NoError(t, err)
	require.Equal(t, taskqueue.StatusBpmnError, stored.Status)
	require.Equal(t, "E42", stored.ErrorCode)

	// Only the unlocked task is available before the retry timeout.
	tasks, err = c.FetchAndLock(ctx, fooFetch("w2"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, unlocked, tasks[0].ID)

	clock.Advance(6 * time.Second)
	tasks, err = c.FetchAndLock(ctx, fooFetch("w2"))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, failing, tasks[0].ID)
	require.NotNil(t, tasks[0].Retries)
	require.Equal(t, 1, *tasks[0].Retries)
	require.Equal(t, "boom", tasks[0].ErrorMessage)
}

func TestHandler_InvalidRequests(t *testing.T) {
	_, c, _, baseURL := newServedCoordinator(t)
	ctx := context.Background()

	_, err := c.FetchAndLock(ctx, api.FetchRequest{MaxTasks: 1, Topics: []api.TopicRequest{{TopicName: "foo", LockDuration: time.Second}}})
	require.ErrorIs(t, err, api.ErrInvalidRequest)

	err = c.Unlock(ctx, "missing")
	require.ErrorIs(t, err, api.ErrTaskNotFound)

	resp, err := http.Post(baseURL+"/external-task/fetchAndLock", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, ErrTypeInvalidRequest, body.Type)
	require.NotEmpty(t, body.Message)
}

type panickingCoordinator struct{ api.Coordinator }

func (panickingCoordinator) Unlock(context.Context, string) error { panic("unlock exploded") }

func TestHandler_RecoversFromPanics(t *testing.T) {
	srv := httptest.NewServer(NewHandler(panickingCoordinator{}, HandlerConfig{Logger: discardLogger()}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	err := c.Unlock(context.Background(), "t1")
	require.Error(t, err)
	require.True(t, api.IsRetryable(err), "a 500 should be retryable: %v", err)
}
