package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Outcome is the report a worker made, or tried to make, for a task.
type Outcome string

const (
	OutcomeComplete    Outcome = "complete"
	OutcomeFailure     Outcome = "failure"
	OutcomeBpmnError   Outcome = "bpmnError"
	OutcomeLockExpired Outcome = "lockExpired"

	// OutcomeAbandoned means the worker shut down and unlocked the task
	// instead of reporting it.
	OutcomeAbandoned Outcome = "abandoned"
)

// Observer receives callbacks from a worker for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay the fetch loop or task execution.
type Observer interface {
	// OnFetch is called after every fetch-and-lock call with the number of
	// topics requested and tasks received.
	OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration)

	// OnTaskStart is called before a handler is invoked.
	OnTaskStart(ctx context.Context, task *ExternalTask)

	// OnTaskCompleted is called once the outcome of a task has been
	// reported. err is non-nil when the report itself failed.
	OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {}

func (NoopObserver) OnTaskStart(ctx context.Context, task *ExternalTask) {}

func (NoopObserver) OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnFetch(ctx, topics, tasks, err, d)
	}
}

func (c *CompositeObserver) OnTaskStart(ctx context.Context, task *ExternalTask) {
	for _, o := range c.observers {
		o.OnTaskStart(ctx, task)
	}
}

func (c *CompositeObserver) OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnTaskCompleted(ctx, task, outcome, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs fetch and task
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {
	if err != nil {
		o.Logger.WarnContext(ctx, "fetch_failed",
			slog.Int("topics", topics),
			slog.Duration("duration", d),
			slog.Any("error", err),
		)
		return
	}
	o.Logger.DebugContext(ctx, "fetch",
		slog.Int("topics", topics),
		slog.Int("tasks", tasks),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnTaskStart(ctx context.Context, task *ExternalTask) {
	o.Logger.DebugContext(ctx, "task_start",
		slog.String("task_id", task.ID),
		slog.String("topic", task.TopicName),
		slog.String("worker_id", task.WorkerID),
	)
}

func (o *LoggingObserver) OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration) {
	level := slog.LevelDebug
	switch {
	case err != nil:
		level = slog.LevelError
	case outcome == OutcomeLockExpired:
		level = slog.LevelWarn
	case outcome != OutcomeComplete:
		level = slog.LevelInfo
	}
	o.Logger.Log(ctx, level, "task_completed",
		slog.String("task_id", task.ID),
		slog.String("topic", task.TopicName),
		slog.String("worker_id", task.WorkerID),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate handler durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	fetches        atomic.Int64
	fetchErrors    atomic.Int64
	tasksFetched   atomic.Int64
	tasksStarted   atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
	bpmnErrors     atomic.Int64
	locksExpired   atomic.Int64
	abandoned      atomic.Int64
	reportErrors   atomic.Int64
	totalDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Fetches      int64
	FetchErrors  int64
	TasksFetched int64

	TasksStarted   int64
	TasksCompleted int64
	TasksFailed    int64
	BpmnErrors     int64
	LocksExpired   int64
	Abandoned      int64
	ReportErrors   int64
	InFlight       int64

	AvgTaskDuration time.Duration
}

func (m *BasicMetrics) OnFetch(ctx context.Context, topics, tasks int, err error, d time.Duration) {
	m.fetches.Add(1)
	if err != nil {
		m.fetchErrors.Add(1)
		return
	}
	m.tasksFetched.Add(int64(tasks))
}

func (m *BasicMetrics) OnTaskStart(ctx context.Context, task *ExternalTask) {
	m.tasksStarted.Add(1)
}

func (m *BasicMetrics) OnTaskCompleted(ctx context.Context, task *ExternalTask, outcome Outcome, err error, d time.Duration) {
	m.totalDuration.Add(d.Nanoseconds())
	if err != nil {
		m.reportErrors.Add(1)
		return
	}
	switch outcome {
	case OutcomeComplete:
		m.tasksCompleted.Add(1)
	case OutcomeFailure:
		m.tasksFailed.Add(1)
	case OutcomeBpmnError:
		m.bpmnErrors.Add(1)
	case OutcomeLockExpired:
		m.locksExpired.Add(1)
	case OutcomeAbandoned:
		m.abandoned.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.tasksStarted.Load()
	completed := m.tasksCompleted.Load()
	failed := m.tasksFailed.Load()
	bpmn := m.bpmnErrors.Load()
	expired := m.locksExpired.Load()
	abandoned := m.abandoned.Load()
	reportErrs := m.reportErrors.Load()
	totalNs := m.totalDuration.Load()

	finished := completed + failed + bpmn + expired + abandoned + reportErrs
	var avg time.Duration
	if finished > 0 {
		avg = time.Duration(totalNs / finished)
	}

	return BasicMetricsSnapshot{
		Fetches:         m.fetches.Load(),
		FetchErrors:     m.fetchErrors.Load(),
		TasksFetched:    m.tasksFetched.Load(),
		TasksStarted:    started,
		TasksCompleted:  completed,
		TasksFailed:     failed,
		BpmnErrors:      bpmn,
		LocksExpired:    expired,
		Abandoned:       abandoned,
		ReportErrors:    reportErrs,
		InFlight:        started - finished,
		AvgTaskDuration: avg,
	}
}
