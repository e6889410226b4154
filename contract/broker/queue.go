package broker

import "context"

// Job is the plain payload pushed to a queue for a deferred command.
// Identity travels along, but the consuming worker re-resolves it by username
// because a principal record may not serialize faithfully.
type Job struct {
	Context   string   `json:"context"`
	Service   string   `json:"service"`
	Operation string   `json:"operation"`
	Params    Params   `json:"params"`
	Identity  Identity `json:"identity"`
}

// Queue abstracts job hand-off. Library users provide an implementation
// backed by their queue/broker; Push returns an opaque job handle.
type Queue interface {
	Push(ctx context.Context, job Job, opts QueueOptions) (string, error)
}

// Delivery is a job handed back by a JobSource.
type Delivery struct {
	ID      string
	Job     Job
	Attempt int
	Options QueueOptions
}

// JobSource is implemented by queue backends that can hand jobs back to an
// in-module job runner. Reserve returns errors.ErrQueueEmpty when nothing is ready.
type JobSource interface {
	Reserve(ctx context.Context) (Delivery, error)
	Complete(ctx context.Context, id string, runErr error) error
}
