package extask

import (
	"github.com/petrijr/extask/internal/taskqueue"
	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/rest"
	"github.com/petrijr/extask/pkg/variables"
	"github.com/petrijr/extask/pkg/worker"
)

// Re-export key types so users don't need to dig into pkg/api and
// pkg/worker.

type (
	Coordinator          = api.Coordinator
	ExternalTask         = api.ExternalTask
	Outcome              = api.Outcome
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Worker       = worker.Worker
	WorkerConfig = worker.Config
	Handler      = worker.Handler
	Result       = worker.Result
	Subscription = worker.Subscription
	BpmnError    = worker.BpmnError
	FailureError = worker.FailureError
	HandlerError = worker.HandlerError

	// TaskRecord is a task as stored by an embedded coordinator.
	TaskRecord = taskqueue.Task
	TaskStatus = taskqueue.Status
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewBpmnError         = worker.NewBpmnError
	Fail                 = worker.Fail
	LoggerFromContext    = worker.LoggerFromContext
	IsRetryable          = api.IsRetryable
)

// Re-export errors and status values for convenience.

var (
	ErrLockExpired  = api.ErrLockExpired
	ErrTaskNotFound = api.ErrTaskNotFound
)

const (
	OutcomeComplete    = api.OutcomeComplete
	OutcomeFailure     = api.OutcomeFailure
	OutcomeBpmnError   = api.OutcomeBpmnError
	OutcomeLockExpired = api.OutcomeLockExpired
	OutcomeAbandoned   = api.OutcomeAbandoned

	StatusOpen      = taskqueue.StatusOpen
	StatusCompleted = taskqueue.StatusCompleted
	StatusIncident  = taskqueue.StatusIncident
	StatusBpmnError = taskqueue.StatusBpmnError
)

// NewWorker returns a Worker fetching from c.
func NewWorker(c Coordinator, cfg WorkerConfig) *Worker {
	return worker.NewWithConfig(c, cfg)
}

// NewRESTWorker returns a Worker talking to the external task REST API at
// baseURL, e.g. "http://localhost:8080/engine-rest".
func NewRESTWorker(baseURL string, cfg WorkerConfig) (*Worker, error) {
	c, err := rest.NewClient(rest.ClientConfig{BaseURL: baseURL, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	return worker.NewWithConfig(c, cfg), nil
}

// NewEngine returns a variable engine with the built-in data formats,
// ready for type registration with variables.RegisterType.
func NewEngine() *variables.Engine {
	return variables.NewDefaultEngine()
}
