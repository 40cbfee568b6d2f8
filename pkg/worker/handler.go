package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/petrijr/extask/pkg/api"
	"github.com/petrijr/extask/pkg/variables"
)

// Handler executes one external task. The returned variables are reported
// on completion; values may be plain Go values or variables.TypedValue.
type Handler func(ctx context.Context, task *api.ExternalTask) (map[string]any, error)

// Result describes how a task ended.
type Result struct {
	Task    *api.ExternalTask
	Outcome api.Outcome

	// HandlerErr is the error returned by the handler, or a *HandlerError
	// for panics and unencodable output.
	HandlerErr error

	// Err is set when the outcome could not be reported. It matches
	// api.ErrLockExpired when the coordinator rejected the report because
	// the lock was lost.
	Err error

	Duration time.Duration
}

// call runs h and turns a panic into a *HandlerError.
func call(ctx context.Context, h Handler, task *api.ExternalTask) (out map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &HandlerError{
				TaskID: task.ID,
				Topic:  task.TopicName,
				Panic:  r,
				Stack:  debug.Stack(),
			}
		}
	}()
	return h(ctx, task)
}

// outputFormat picks the format for the output variable name.
func (w *Worker) outputFormat(sub *Subscription, task *api.ExternalTask, name string) string {
	if sub.outputFormat != "" {
		return sub.outputFormat
	}
	if ov, ok := task.Variables[name].(*variables.ObjectValue); ok && ov.SerializationDataFormat() != "" {
		if _, err := w.cfg.Engine.Format(ov.SerializationDataFormat()); err == nil {
			return ov.SerializationDataFormat()
		}
	}
	return w.cfg.DefaultFormat
}

func (w *Worker) encodeVariables(sub *Subscription, task *api.ExternalTask, vals map[string]any) (map[string]variables.Wire, error) {
	if len(vals) == 0 {
		return nil, nil
	}
	m := make(variables.Map, len(vals))
	for name, v := range vals {
		tv, err := w.cfg.Engine.Typed(v, w.outputFormat(sub, task, name))
		if err != nil {
			return nil, fmt.Errorf("output variable %q: %w", name, err)
		}
		m[name] = tv
	}
	return variables.MapToWire(m)
}

// failureRequest builds the failure report for handler error herr.
func (w *Worker) failureRequest(task *api.ExternalTask, herr error) api.FailureRequest {
	req := api.FailureRequest{
		TaskID:       task.ID,
		WorkerID:     task.WorkerID,
		ErrorMessage: herr.Error(),
		Retries:      w.cfg.DefaultRetries,
		RetryTimeout: w.cfg.RetryTimeout,
	}
	if task.Retries != nil {
		req.Retries = max(*task.Retries-1, 0)
	}

	var fe *FailureError
	if errors.As(herr, &fe) {
		if fe.Retries != nil {
			req.Retries = max(*fe.Retries, 0)
		}
		if fe.RetryTimeout > 0 {
			req.RetryTimeout = fe.RetryTimeout
		}
		req.ErrorDetails = fe.Details
	}
	var he *HandlerError
	if req.ErrorDetails == "" && errors.As(herr, &he) && he.Stack != nil {
		req.ErrorDetails = string(he.Stack)
	}
	return req
}
