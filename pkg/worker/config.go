package worker

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

const tracerName = "github.com/petrijr/extask/pkg/worker"

// Config controls a Worker. Zero values are replaced by defaults in
// NewWithConfig.
type Config struct {
	// WorkerID identifies this worker to the coordinator. Defaults to a
	// random UUID.
	WorkerID string

	// MaxTasks caps the tasks held by this worker at any time, both running
	// and waiting to run. It is also the number of handler goroutines.
	// Defaults to 10.
	MaxTasks int

	// UsePriority asks the coordinator to hand out higher-priority tasks
	// first.
	UsePriority bool

	// AsyncResponseTimeout enables long polling: fetches wait up to this
	// long for tasks to become available. Zero disables long polling.
	AsyncResponseTimeout time.Duration

	// LockDuration is used by subscriptions that do not set their own.
	// Defaults to 20s.
	LockDuration time.Duration

	// Backoff controls the delay between failed fetches and between report
	// retries. Defaults to DefaultBackoff.
	Backoff Backoff

	// IdleInterval is the pause after an empty fetch when long polling is
	// disabled, and the longest the loop waits for capacity before
	// re-checking. Defaults to 1s.
	IdleInterval time.Duration

	// ReportRetries is how often a report that failed with a retryable
	// error is attempted again. Defaults to 3; negative disables retries.
	ReportRetries int

	// DefaultRetries and RetryTimeout are reported on failure when neither
	// the handler (via *FailureError) nor the task's remaining retries say
	// otherwise.
	DefaultRetries int
	RetryTimeout   time.Duration

	// DefaultFormat is the serialization data format for output object
	// variables when neither the subscription nor a fetched variable of the
	// same name decides it. Defaults to variables.FormatJSON.
	DefaultFormat string

	// ShutdownTimeout bounds how long Close waits for in-flight executions.
	// Defaults to 30s.
	ShutdownTimeout time.Duration

	// AbandonOnShutdown makes Close unlock tasks that have not started yet
	// and cancel the context of running handlers instead of draining them.
	AbandonOnShutdown bool

	Engine   *variables.Engine
	Logger   *slog.Logger
	Observer api.Observer
	Tracer   trace.Tracer
}

// DefaultConfig returns a Config with the default values filled in.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = 10
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 20 * time.Second
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Second
	}
	switch {
	case c.ReportRetries == 0:
		c.ReportRetries = 3
	case c.ReportRetries < 0:
		c.ReportRetries = 0
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = variables.FormatJSON
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Engine == nil {
		c.Engine = variables.NewDefaultEngine()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Observer == nil {
		c.Observer = api.NoopObserver{}
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	return c
}
