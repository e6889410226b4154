package broker

import "context"

// Broker is a minimal interface that mirrors the capabilities of the concrete
// service broker. It is intended for consumers (transports, job runners) that
// want to depend only on contracts.
type Broker interface {
	// Lookup
	Exists(service string) bool

	// Exec
	Dispatch(ctx context.Context, cmd *Command, until StopPredicate) (*Responses, error)
	Execute(ctx context.Context, service, operation string, params Params) (*Responses, error)
	ExecuteInContext(ctx context.Context, invocation, service, operation string, params Params) (*Responses, error)

	// Async
	Queue(ctx context.Context, cmd *Command, opts QueueOptions) (string, error)
}
