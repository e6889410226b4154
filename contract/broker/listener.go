package broker

import "context"

// Listener handles commands for the service name it is attached to.
// An object that already implements Listener is invoked as-is; any other
// service object is wrapped by an interception proxy first.
type Listener interface {
	Handle(ctx context.Context, cmd *Command) (any, error)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, cmd *Command) (any, error)

// Handle calls f.
func (f ListenerFunc) Handle(ctx context.Context, cmd *Command) (any, error) { return f(ctx, cmd) }

// StopPredicate is evaluated against every successful response; returning
// true halts the dispatch.
type StopPredicate func(response any) bool
