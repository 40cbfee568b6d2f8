// Package api contains the types shared between an external task worker
// and the coordinator it talks to.
//
// A coordinator owns external tasks. Workers fetch tasks for the topics
// they subscribe to, which locks each task to the fetching worker for a
// lock duration, and then report one outcome per task:
//
//   - Complete, optionally with output variables
//   - HandleFailure, with an error message and retry hints
//   - HandleBpmnError, for business faults identified by an error code
//
// A report for a task whose lock has expired or moved to another worker is
// rejected with ErrLockExpired. Workers treat that as an expected outcome:
// the task will be fetched again by whoever holds the next lock.
//
// # Coordinators
//
// Coordinator is implemented by the REST client in package rest and by the
// embedded coordinator used for local development and tests. Both accept
// and return the same request and LockedTask types, with variables kept in
// their wire form (variables.Wire) until a handler reads them.
//
// # Observability
//
// Observer receives fetch and task lifecycle callbacks. LoggingObserver
// writes them with log/slog, BasicMetrics keeps in-process counters and
// NewCompositeObserver fans events out to several observers.
package api
