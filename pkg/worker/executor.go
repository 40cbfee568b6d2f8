package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/extask/pkg/api"
)

type job struct {
	task api.LockedTask
	sub  *Subscription
}

// executor runs fetched tasks on a fixed set of goroutines. Admission is
// counted per topic and globally when a task is submitted, so the fetch
// loop can size its next request from the free capacity.
type executor struct {
	w    *Worker
	jobs chan job

	// ctx is passed to handlers, reportCtx to coordinator reports.
	ctx          context.Context
	cancel       context.CancelFunc
	reportCtx    context.Context
	reportCancel context.CancelFunc
	abandoning   atomic.Bool

	mu       sync.Mutex
	inFlight map[string]struct{}
	perTopic map[string]int
	total    int

	// freed receives a value whenever capacity is released.
	freed chan struct{}
	wg    sync.WaitGroup
}

func newExecutor(w *Worker, base context.Context) *executor {
	base = context.WithoutCancel(base)
	e := &executor{
		w:        w,
		jobs:     make(chan job, w.cfg.MaxTasks),
		inFlight: make(map[string]struct{}),
		perTopic: make(map[string]int),
		freed:    make(chan struct{}, 1),
	}
	e.ctx, e.cancel = context.WithCancel(base)
	e.reportCtx, e.reportCancel = context.WithCancel(base)

	e.wg.Add(w.cfg.MaxTasks)
	for range w.cfg.MaxTasks {
		go func() {
			defer e.wg.Done()
			for j := range e.jobs {
				e.run(j)
			}
		}()
	}
	return e
}

// capacity returns the free global slots and the free slots for each of
// subs. A topic without a limit gets the global value.
func (e *executor) capacity(subs []*Subscription) (int, []int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	global := e.w.cfg.MaxTasks - e.total
	free := make([]int, len(subs))
	for i, s := range subs {
		free[i] = global
		if s.maxTasks > 0 {
			free[i] = min(global, s.maxTasks-e.perTopic[s.topic])
		}
	}
	return global, free
}

// submit admits a task for execution.
func (e *executor) submit(j job) error {
	e.mu.Lock()
	if _, ok := e.inFlight[j.task.ID]; ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, j.task.ID)
	}
	if e.total >= e.w.cfg.MaxTasks ||
		(j.sub.maxTasks > 0 && e.perTopic[j.sub.topic] >= j.sub.maxTasks) {
		e.mu.Unlock()
		return fmt.Errorf("%w: topic %s", ErrNoCapacity, j.sub.topic)
	}
	e.inFlight[j.task.ID] = struct{}{}
	e.perTopic[j.sub.topic]++
	e.total++
	e.mu.Unlock()

	// total <= MaxTasks == cap(jobs), so this never blocks.
	e.jobs <- j
	return nil
}

func (e *executor) done(j job) {
	e.mu.Lock()
	delete(e.inFlight, j.task.ID)
	if e.perTopic[j.sub.topic]--; e.perTopic[j.sub.topic] <= 0 {
		delete(e.perTopic, j.sub.topic)
	}
	e.total--
	e.mu.Unlock()

	select {
	case e.freed <- struct{}{}:
	default:
	}
}

// inFlightCount returns the number of admitted tasks.
func (e *executor) inFlightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

func (e *executor) run(j job) {
	defer e.done(j)

	w := e.w
	task := api.NewExternalTask(j.task, w.cfg.Engine, w.coordinator)

	ctx, span := w.cfg.Tracer.Start(e.ctx, "extask.execute",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("extask.topic", task.TopicName),
			attribute.String("extask.task_id", task.ID),
			attribute.String("extask.worker_id", task.WorkerID),
		),
	)
	defer span.End()
	ctx = withLogger(ctx, w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("topic", task.TopicName),
	))

	w.cfg.Observer.OnTaskStart(ctx, task)
	start := time.Now()

	out, herr := call(ctx, j.sub.handler, task)

	res := Result{Task: task, HandlerErr: herr}
	reportCtx := trace.ContextWithSpan(e.reportCtx, span)
	if herr != nil && e.abandoning.Load() && ctx.Err() != nil {
		res.Outcome = api.OutcomeAbandoned
		res.Err = w.coordinator.Unlock(reportCtx, task.ID)
	} else {
		res.Outcome, res.HandlerErr, res.Err = e.settle(reportCtx, j.sub, task, out, herr)
	}
	res.Duration = time.Since(start)

	span.SetAttributes(attribute.String("extask.outcome", string(res.Outcome)))
	switch {
	case res.Err != nil:
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	case res.HandlerErr != nil:
		span.RecordError(res.HandlerErr)
		span.SetStatus(codes.Error, res.HandlerErr.Error())
	}

	if res.Outcome == api.OutcomeLockExpired {
		w.logger.WarnContext(ctx, "lock expired before report",
			slog.String("task_id", task.ID),
			slog.String("topic", task.TopicName),
			slog.Any("error", res.Err),
		)
	} else if res.Err != nil {
		w.logger.ErrorContext(ctx, "report failed",
			slog.String("task_id", task.ID),
			slog.String("topic", task.TopicName),
			slog.String("outcome", string(res.Outcome)),
			slog.Any("error", res.Err),
		)
	}

	w.cfg.Observer.OnTaskCompleted(ctx, task, res.Outcome, res.Err, res.Duration)
	e.notify(j.sub, res)
}

// settle reports the outcome of a handler call. It returns the outcome,
// the effective handler error and the report error.
func (e *executor) settle(ctx context.Context, sub *Subscription, task *api.ExternalTask, out map[string]any, herr error) (api.Outcome, error, error) {
	w := e.w
	outcome := api.OutcomeFailure
	var err error

	var be *BpmnError
	switch {
	case herr == nil:
		vars, encErr := w.encodeVariables(sub, task, out)
		if encErr != nil {
			herr = &HandlerError{TaskID: task.ID, Topic: task.TopicName, Err: encErr}
			break
		}
		outcome = api.OutcomeComplete
		err = e.report(ctx, task, "complete", func(ctx context.Context) error {
			return w.coordinator.Complete(ctx, api.CompleteRequest{
				TaskID:    task.ID,
				WorkerID:  task.WorkerID,
				Variables: vars,
			})
		})
	case errors.As(herr, &be):
		vars, encErr := w.encodeVariables(sub, task, be.Variables)
		if encErr != nil {
			herr = &HandlerError{TaskID: task.ID, Topic: task.TopicName, Err: encErr}
			break
		}
		outcome = api.OutcomeBpmnError
		err = e.report(ctx, task, "bpmnError", func(ctx context.Context) error {
			return w.coordinator.HandleBpmnError(ctx, api.BpmnErrorRequest{
				TaskID:       task.ID,
				WorkerID:     task.WorkerID,
				ErrorCode:    be.Code,
				ErrorMessage: be.Message,
				Variables:    vars,
			})
		})
	}

	if outcome == api.OutcomeFailure {
		req := w.failureRequest(task, herr)
		err = e.report(ctx, task, "failure", func(ctx context.Context) error {
			return w.coordinator.HandleFailure(ctx, req)
		})
	}

	if errors.Is(err, api.ErrLockExpired) {
		outcome = api.OutcomeLockExpired
	}
	return outcome, herr, err
}

// report calls fn, retrying retryable errors with backoff. Lock errors
// are returned at once.
func (e *executor) report(ctx context.Context, task *api.ExternalTask, op string, fn func(context.Context) error) error {
	cfg := e.w.cfg
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || !api.IsRetryable(err) || attempt >= cfg.ReportRetries {
			return err
		}
		delay := cfg.Backoff.Delay(attempt)
		e.w.logger.WarnContext(ctx, "report failed, retrying",
			slog.String("task_id", task.ID),
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.Any("error", err),
		)
		if !sleep(ctx, delay) {
			return err
		}
	}
}

func (e *executor) notify(sub *Subscription, res Result) {
	if sub.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.w.logger.Error("result callback panicked",
				slog.String("task_id", res.Task.ID),
				slog.String("topic", sub.topic),
				slog.Any("panic", r),
			)
		}
	}()
	sub.onResult(res)
}

// shutdown stops accepting work and waits for running executions. With
// abandon set, queued tasks are unlocked and running handlers see their
// context cancelled.
func (e *executor) shutdown(ctx context.Context, abandon bool, timeout time.Duration) error {
	if abandon {
		e.abandoning.Store(true)
		e.cancel()
		e.unlockQueued()
	}
	close(e.jobs)

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-finished:
	case <-timer.C:
		err = fmt.Errorf("%w: %d tasks still running", ErrShutdownTimeout, e.inFlightCount())
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.cancel()
	e.reportCancel()
	return err
}

func (e *executor) unlockQueued() {
	for {
		select {
		case j, ok := <-e.jobs:
			if !ok {
				return
			}
			err := e.w.coordinator.Unlock(e.reportCtx, j.task.ID)
			if err != nil {
				e.w.logger.Warn("unlock on shutdown failed",
					slog.String("task_id", j.task.ID),
					slog.Any("error", err),
				)
			}
			e.done(j)
		default:
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
