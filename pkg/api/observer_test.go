package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	fetches   int
	starts    int
	completes int

	lastFetch struct {
		Topics, Tasks int
		Err           error
	}
	lastComplete struct {
		Task     *ExternalTask
		Outcome  Outcome
		Err      error
		Duration time.Duration
	}
}

func (o *testObserver) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches++
	o.lastFetch.Topics, o.lastFetch.Tasks, o.lastFetch.Err = topics, tasks, err
}

func (o *testObserver) OnTaskStart(ctx context.Context, task *ExternalTask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *testObserver) OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
	o.lastComplete.Task = task
	o.lastComplete.Outcome = outcome
	o.lastComplete.Err = err
	o.lastComplete.Duration = d
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(name string) slog.Handler       { return h }

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestTask() *ExternalTask {
	return &ExternalTask{
		ID:        "task-123",
		TopicName: "foo",
		WorkerID:  "worker-1",
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	task := newTestTask()
	var o Observer = NoopObserver{}

	o.OnFetch(ctx, 1, 2, nil, time.Second)
	o.OnTaskStart(ctx, task)
	o.OnTaskCompleted(ctx, task, OutcomeFailure, errors.New("boom"), time.Second)
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil) // include a nil to ensure it is filtered

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	task := newTestTask()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("report failed")
	co.OnFetch(ctx, 2, 5, nil, time.Millisecond)
	co.OnTaskStart(ctx, task)
	co.OnTaskCompleted(ctx, task, OutcomeComplete, err, 2*time.Second)

	for i, o := range []*testObserver{o1, o2} {
		if o.fetches != 1 || o.starts != 1 || o.completes != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastFetch.Topics != 2 || o.lastFetch.Tasks != 5 {
			t.Fatalf("observer %d fetch mismatch: %+v", i+1, o.lastFetch)
		}
		if o.lastComplete.Task != task || o.lastComplete.Outcome != OutcomeComplete ||
			o.lastComplete.Err != err || o.lastComplete.Duration != 2*time.Second {
			t.Fatalf("observer %d completion mismatch: %+v", i+1, o.lastComplete)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnFetchError_EmitsWarn(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnFetch(context.Background(), 3, 0, errors.New("connection refused"), time.Second)

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}
	rec := h.records[0]
	if rec.Level != slog.LevelWarn || rec.Message != "fetch_failed" {
		t.Fatalf("unexpected record: %v %q", rec.Level, rec.Message)
	}
	if attrsToMap(rec)["topics"] != int64(3) {
		t.Fatalf("expected topics=3, got %v", attrsToMap(rec)["topics"])
	}
}

func TestLoggingObserver_OnTaskCompleted_LevelDependsOnOutcome(t *testing.T) {
	ctx := context.Background()
	task := newTestTask()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnTaskCompleted(ctx, task, OutcomeComplete, nil, time.Second)
	o.OnTaskCompleted(ctx, task, OutcomeBpmnError, nil, time.Second)
	o.OnTaskCompleted(ctx, task, OutcomeLockExpired, nil, time.Second)
	o.OnTaskCompleted(ctx, task, OutcomeComplete, errors.New("boom"), time.Second)

	want := []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}
	if len(h.records) != len(want) {
		t.Fatalf("expected %d log records, got %d", len(want), len(h.records))
	}
	for i, lvl := range want {
		if h.records[i].Level != lvl {
			t.Fatalf("record %d: level=%v, want %v", i, h.records[i].Level, lvl)
		}
		if h.records[i].Message != "task_completed" {
			t.Fatalf("record %d: message=%q", i, h.records[i].Message)
		}
	}

	attrs := attrsToMap(h.records[2])
	if attrs["task_id"] != task.ID || attrs["topic"] != "foo" || attrs["outcome"] != "lockExpired" {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	var m BasicMetrics

	ctx := context.Background()
	task := newTestTask()

	m.OnFetch(ctx, 1, 4, nil, 0)
	m.OnFetch(ctx, 1, 0, errors.New("down"), 0)

	for range 4 {
		m.OnTaskStart(ctx, task)
	}
	m.OnTaskCompleted(ctx, task, OutcomeComplete, nil, 1*time.Second)
	m.OnTaskCompleted(ctx, task, OutcomeFailure, nil, 3*time.Second)
	m.OnTaskCompleted(ctx, task, OutcomeLockExpired, nil, 2*time.Second)

	snap := m.Snapshot()

	if snap.Fetches != 2 || snap.FetchErrors != 1 || snap.TasksFetched != 4 {
		t.Fatalf("fetch counters wrong: %+v", snap)
	}
	if snap.TasksCompleted != 1 || snap.TasksFailed != 1 || snap.LocksExpired != 1 {
		t.Fatalf("outcome counters wrong: %+v", snap)
	}
	if snap.InFlight != 1 {
		t.Fatalf("InFlight=%d, want 1", snap.InFlight)
	}
	if snap.AvgTaskDuration != 2*time.Second {
		t.Fatalf("AvgTaskDuration=%v, want 2s", snap.AvgTaskDuration)
	}
}

func TestBasicMetrics_SnapshotZeroHasZeroAverage(t *testing.T) {
	var m BasicMetrics
	snap := m.Snapshot()
	if snap.TasksStarted != 0 || snap.AvgTaskDuration != 0 {
		t.Fatalf("unexpected zero snapshot: %+v", snap)
	}
}
