// Package extask is a client for external tasks: units of work that a
// central coordinator, typically a process engine, hands out to remote
// workers.
//
// A worker subscribes to topics, fetches and locks tasks on those topics,
// runs a handler per task and reports the outcome back to the coordinator.
// The coordinator owns the lock on every task; a worker whose lock ran out
// has its report rejected and the task goes to whoever fetches it next.
//
// # Core Concepts
//
//  1. Coordinator
//  2. Worker and subscriptions
//  3. Handlers and outcomes
//  4. Variables
//  5. LocalRunner and WorkerBundle
//
// # Coordinator
//
// Coordinator is the contract with the central service: fetch-and-lock,
// complete, failure, BPMN error, lock extension and unlock. pkg/rest
// implements it over the external task REST API; an embedded coordinator
// backs LocalRunner and WorkerBundle.
//
// # Worker
//
// A Worker runs one fetch loop and a bounded pool of handler goroutines.
// It never fetches more tasks than it has room for, so tasks are not left
// waiting in memory while their locks run out. Subscriptions can be opened
// and closed while the worker runs:
//
//	w := extask.NewWorker(coordinator, extask.WorkerConfig{MaxTasks: 8})
//	sub := w.Subscribe("invoice").
//		LockDuration(30 * time.Second).
//		Variables("amount", "invoice").
//		Handler(handleInvoice).
//		MustOpen()
//	_ = w.Start(ctx)
//	...
//	sub.Close()
//	_ = w.Close(ctx)
//
// # Handlers
//
// A Handler returns output variables to complete the task. Returning a
// *BpmnError (NewBpmnError) reports a business error, a *FailureError
// (Fail) reports a failure with explicit retry hints, and any other error
// or a panic reports a failure using the task's remaining retries.
// Result callbacks and Observers see every outcome, including
// OutcomeLockExpired when the coordinator rejected the report.
//
// # Variables
//
// Task variables are typed values. Object values stay serialized until a
// handler reads them and are decoded by the variables.Engine configured on
// the worker. XML, JSON, gob, CBOR and protobuf formats are built in;
// types are bound to names with variables.RegisterType.
//
// # LocalRunner
//
// LocalRunner wires an in-memory coordinator and a Worker together for
// tests and local development. WorkerBundle does the same on SQLite, so
// tasks survive restarts.
package extask
