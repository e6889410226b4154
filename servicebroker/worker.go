package servicebroker

import (
	"context"
	"math"
	"time"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

// Worker is a fluent builder for one call to a service.
//
//	res, err := b.Service("Users").Context("cli").Args(params).Exec(ctx, "find")
type Worker struct {
	b        *Broker
	service  string
	context  string
	identity cbroker.Identity
	params   cbroker.Params
	until    cbroker.StopPredicate

	queued bool
	opts   cbroker.QueueOptions
}

// Result is the outcome of Worker.Exec: responses for a synchronous call, or
// the job handle when the call was queued.
type Result struct {
	Responses *cbroker.Responses
	JobID     string
}

// Queued reports whether the call was handed to a queue.
func (r Result) Queued() bool { return r.JobID != "" }

// Service starts a call to the named service.
func (b *Broker) Service(name string) *Worker {
	return &Worker{b: b, service: name}
}

// Context sets the invocation context.
func (w *Worker) Context(name string) *Worker {
	w.context = name
	return w
}

// Identity sets the acting identity.
func (w *Worker) Identity(id cbroker.Identity) *Worker {
	w.identity = id
	return w
}

// Args sets the params.
func (w *Worker) Args(params cbroker.Params) *Worker {
	w.params = params
	return w
}

// Until sets the stop predicate for a synchronous call.
func (w *Worker) Until(pred cbroker.StopPredicate) *Worker {
	w.until = pred
	return w
}

// Queue defers the call with the given priority.
func (w *Worker) Queue(priority int) *Worker {
	w.queued = true
	w.opts.Priority = priority

	return w
}

// On selects the queue used by Queue.
func (w *Worker) On(queue string) *Worker {
	w.opts.Queue = queue
	return w
}

// Delay postpones a queued call. Queues count whole seconds, so any
// fraction rounds up.
func (w *Worker) Delay(d time.Duration) *Worker {
	w.opts.DelaySeconds = ceilSeconds(d)
	return w
}

// TTR bounds how long the consuming worker may run a queued call, rounded up
// to whole seconds.
func (w *Worker) TTR(d time.Duration) *Worker {
	w.opts.TTRSeconds = ceilSeconds(d)
	return w
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}

	return int(math.Ceil(d.Seconds()))
}

// Exec runs operation, or queues it when Queue was called.
func (w *Worker) Exec(ctx context.Context, operation string) (Result, error) {
	cmd := cbroker.NewCommand(w.service, operation, w.params)
	cmd.Context = w.context
	cmd.Identity = w.identity

	if w.queued {
		id, err := w.b.Queue(ctx, cmd, w.opts)
		if err != nil {
			return Result{}, err
		}

		return Result{JobID: id}, nil
	}

	res, err := w.b.Dispatch(ctx, cmd, w.until)
	if err != nil {
		return Result{}, err
	}

	return Result{Responses: res}, nil
}
