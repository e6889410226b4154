package servicebroker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
)

// Queue hands cmd off to a queue instead of running it. The job carries the
// command's identity, or the broker default; with neither it fails with
// ErrConfiguration, as it does when the named (or default) queue is unknown.
// It returns the backend's job handle.
func (b *Broker) Queue(ctx context.Context, cmd *cbroker.Command, opts cbroker.QueueOptions) (string, error) {
	identity := cmd.Identity
	if identity == nil {
		id, err := b.DefaultIdentity(ctx)
		if err != nil {
			return "", fmt.Errorf("queue %s.%s: %w", cmd.Service, cmd.Operation, err)
		}

		identity = id
	}

	if identity == nil {
		return "", berr.Configuration("Cannot queue %service%.%operation% without an identity",
			map[string]any{"service": cmd.Service, "operation": cmd.Operation})
	}

	name := opts.Queue
	if name == "" {
		name = b.defaultQueue
	}

	q, ok := b.queues[name]
	if !ok || q == nil {
		return "", berr.Configuration("Queue %queue% is not configured", map[string]any{"queue": name})
	}

	invocation := cmd.Context
	if invocation == "" {
		invocation = b.defaultContext
	}

	job := cbroker.Job{
		Context:   invocation,
		Service:   cmd.Service,
		Operation: cmd.Operation,
		Params:    cmd.Params.Clone(),
		Identity:  identity.Clone(),
	}

	opts.Queue = name
	opts.Headers = maps.Clone(opts.Headers)

	if opts.Headers == nil {
		opts.Headers = make(map[string]string)
	}

	b.propagator.Inject(ctx, opts.Headers)

	id, err := q.Push(ctx, job, opts)
	b.metrics.observeQueued(name, err)

	if err != nil {
		return "", fmt.Errorf("queue %s.%s: %w", cmd.Service, cmd.Operation, errors.Join(berr.ErrEnqueueFailed, err))
	}

	b.logger.DebugContext(ctx, "command queued",
		slog.String("service", cmd.Service),
		slog.String("operation", cmd.Operation),
		slog.String("queue", name),
		slog.String("job_id", id),
	)

	return id, nil
}
