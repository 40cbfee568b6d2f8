// Package worker implements an external task worker: it subscribes to
// topics, fetches and locks tasks from an api.Coordinator, runs a handler
// for each task and reports the outcome.
//
// # Subscriptions
//
// A subscription binds a topic to a Handler:
//
//	w := worker.NewWithConfig(coordinator, worker.Config{MaxTasks: 8})
//	sub, err := w.Subscribe("invoice").
//		LockDuration(30 * time.Second).
//		Variables("amount", "customer").
//		MaxTasks(4).
//		Handler(handleInvoice).
//		Open()
//
// Only one subscription per topic can be open at a time. Closing a
// subscription stops future fetches for its topic; tasks already fetched
// for it still run to completion.
//
// # Fetch loop
//
// Start launches a single loop that repeatedly fetches tasks for all open
// subscriptions. Each request asks only for as many tasks as the worker
// can admit, so tasks are not locked while nobody can run them. Failed
// fetches are retried with jittered exponential backoff.
//
// # Outcomes
//
// A handler returning nil completes the task with the returned output
// variables. Returning a *BpmnError reports a business fault; any other
// error, or a panic, reports a failure with retry hints taken from a
// *FailureError or the task and worker defaults.
//
// A report rejected because the lock expired is not retried. The
// subscription's OnResult callback receives a Result whose Err matches
// api.ErrLockExpired.
//
// # Observability
//
// Lifecycle events go to the configured api.Observer, each task execution
// runs in an OpenTelemetry span, and log output uses log/slog.
package worker
