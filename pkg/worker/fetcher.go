package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/extask/pkg/api"
)

// loop is the fetch-and-lock loop. It runs until ctx is cancelled and
// closes done on return.
func (w *Worker) loop(ctx context.Context, exec *executor, done chan<- struct{}) {
	defer close(done)

	failures := 0
	for ctx.Err() == nil {
		subs := w.registry.acquire()
		req, ok := w.fetchRequest(exec, subs)
		if !ok {
			w.registry.release(subs)
			w.waitForWork(ctx, exec)
			continue
		}

		start := time.Now()
		tasks, err := w.coordinator.FetchAndLock(ctx, req)
		w.cfg.Observer.OnFetch(ctx, len(req.Topics), len(tasks), err, time.Since(start))
		if err != nil {
			w.registry.release(subs)
			if ctx.Err() != nil {
				return
			}
			delay := w.cfg.Backoff.Delay(failures)
			failures++
			w.logger.WarnContext(ctx, "fetch failed",
				slog.Int("attempt", failures),
				slog.Duration("backoff", delay),
				slog.Any("error", err),
			)
			sleep(ctx, delay)
			continue
		}
		failures = 0

		w.dispatch(ctx, exec, subs, tasks)
		w.registry.release(subs)

		// An empty answer that came back before the long-poll timeout means
		// the coordinator does not hold requests open.
		if len(tasks) == 0 && (req.AsyncResponseTimeout <= 0 || time.Since(start) < req.AsyncResponseTimeout) {
			w.waitForWork(ctx, nil)
		}
	}
}

// fetchRequest builds the next request from the pinned subscriptions and
// the executor's free capacity. It reports false when nothing should be
// fetched.
func (w *Worker) fetchRequest(exec *executor, subs []*Subscription) (api.FetchRequest, bool) {
	if len(subs) == 0 {
		return api.FetchRequest{}, false
	}
	global, free := exec.capacity(subs)
	if global <= 0 {
		return api.FetchRequest{}, false
	}

	req := api.FetchRequest{
		WorkerID:             w.cfg.WorkerID,
		MaxTasks:             global,
		UsePriority:          w.cfg.UsePriority,
		AsyncResponseTimeout: w.cfg.AsyncResponseTimeout,
	}
	limited, allLimited := 0, true
	for i, s := range subs {
		if free[i] <= 0 {
			continue
		}
		tr := api.TopicRequest{
			TopicName:    s.topic,
			LockDuration: s.lockDuration,
			Variables:    s.variables,
		}
		if s.maxTasks > 0 {
			tr.MaxTasks = free[i]
			limited += free[i]
		} else {
			allLimited = false
		}
		req.Topics = append(req.Topics, tr)
	}
	// With only limited topics the global cap can carry their sum. An
	// unlimited topic keeps the full global cap; a coordinator that ignores
	// per-topic caps may then overfill a limited topic, and dispatch unlocks
	// the surplus.
	if allLimited {
		req.MaxTasks = min(req.MaxTasks, limited)
	}
	return req, len(req.Topics) > 0
}

// dispatch submits fetched tasks in order. Tasks that cannot be admitted
// are unlocked so another worker can take them.
func (w *Worker) dispatch(ctx context.Context, exec *executor, subs []*Subscription, tasks []api.LockedTask) {
	if len(tasks) == 0 {
		return
	}
	byTopic := make(map[string]*Subscription, len(subs))
	for _, s := range subs {
		byTopic[s.topic] = s
	}

	unlockCtx := context.WithoutCancel(ctx)
	for _, lt := range tasks {
		sub, ok := byTopic[lt.TopicName]
		if !ok {
			w.logger.WarnContext(ctx, "fetched task for unknown topic",
				slog.String("task_id", lt.ID),
				slog.String("topic", lt.TopicName),
			)
			w.unlock(unlockCtx, lt.ID)
			continue
		}
		err := exec.submit(job{task: lt, sub: sub})
		switch {
		case err == nil:
		case errors.Is(err, ErrDuplicateTask):
			// The running execution holds the renewed lock and reports it.
			w.logger.DebugContext(ctx, "task already in flight",
				slog.String("task_id", lt.ID),
				slog.String("topic", lt.TopicName),
			)
		default:
			w.logger.WarnContext(ctx, "task not admitted",
				slog.String("task_id", lt.ID),
				slog.String("topic", lt.TopicName),
				slog.Any("error", err),
			)
			w.unlock(unlockCtx, lt.ID)
		}
	}
}

func (w *Worker) unlock(ctx context.Context, taskID string) {
	if err := w.coordinator.Unlock(ctx, taskID); err != nil {
		w.logger.WarnContext(ctx, "unlock failed",
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}

// waitForWork blocks until capacity is freed, a subscription is added,
// the idle interval elapses or ctx is done. exec may be nil.
func (w *Worker) waitForWork(ctx context.Context, exec *executor) {
	var freed <-chan struct{}
	if exec != nil {
		freed = exec.freed
	}
	t := time.NewTimer(w.cfg.IdleInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-freed:
	case <-w.registry.changed:
	case <-t.C:
	}
}
