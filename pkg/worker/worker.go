package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petrijr/extask/pkg/api"
)

// State is the lifecycle state of a Worker's fetch loop.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Worker fetches external tasks for its subscriptions from a Coordinator
// and executes them.
type Worker struct {
	coordinator api.Coordinator
	cfg         Config
	logger      *slog.Logger
	registry    *registry

	mu       sync.Mutex
	state    State
	cancel   context.CancelFunc
	loopDone chan struct{}
	exec     *executor
}

// New creates a Worker with default config.
func New(c api.Coordinator) *Worker {
	return NewWithConfig(c, Config{})
}

// NewWithConfig creates a Worker. Zero fields of cfg get their defaults.
func NewWithConfig(c api.Coordinator, cfg Config) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		coordinator: c,
		cfg:         cfg,
		logger:      cfg.Logger.With("component", "worker", "worker_id", cfg.WorkerID),
		registry:    newRegistry(),
	}
}

// ID returns the worker id sent to the coordinator.
func (w *Worker) ID() string { return w.cfg.WorkerID }

// Config returns the effective configuration.
func (w *Worker) Config() Config { return w.cfg }

// State returns the current state of the fetch loop.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Topics returns the topics with an open subscription, in subscription
// order.
func (w *Worker) Topics() []string {
	subs := w.registry.active()
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.topic
	}
	return out
}

// Start launches the fetch loop and the handler goroutines. Cancelling ctx
// stops fetching; handlers keep ctx's values but not its cancellation.
// Use Close to shut down cleanly.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateStopped {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.exec = newExecutor(w, ctx)
	w.loopDone = make(chan struct{})
	w.cancel = cancel
	w.state = StateRunning

	go w.loop(loopCtx, w.exec, w.loopDone)

	w.logger.InfoContext(ctx, "worker started",
		slog.Int("max_tasks", w.cfg.MaxTasks),
		slog.Duration("async_response_timeout", w.cfg.AsyncResponseTimeout),
	)
	return nil
}

// Close stops the fetch loop, waits for it to finish its current request
// and then drains running executions, or abandons them if
// Config.AbandonOnShutdown is set, within Config.ShutdownTimeout. Close on
// a worker that is not running is a no-op.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopping
	cancel, done, exec := w.cancel, w.loopDone, w.exec
	w.mu.Unlock()

	cancel()
	<-done

	err := exec.shutdown(ctx, w.cfg.AbandonOnShutdown, w.cfg.ShutdownTimeout)

	w.mu.Lock()
	w.state = StateStopped
	w.cancel = nil
	w.exec = nil
	w.mu.Unlock()

	if err != nil {
		w.logger.WarnContext(ctx, "worker stopped with pending executions", slog.Any("error", err))
		return err
	}
	w.logger.InfoContext(ctx, "worker stopped")
	return nil
}
