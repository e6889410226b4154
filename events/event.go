package events

import (
	"context"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

// Well-known lifecycle event names.
const (
	JobStart = "job.start"
	JobEnd   = "job.end"

	InitPrefix  = "init."
	FinalPrefix = "final."

	// Wildcard listeners receive every event.
	Wildcard = "*"
)

// Event is a named notification with params. Command, when set, is the
// command the event is attributed to.
type Event struct {
	Name    string
	Params  cbroker.Params
	Command *cbroker.Command

	err     error
	stopped bool
}

// New constructs an event.
func New(name string, params cbroker.Params) *Event {
	return &Event{Name: name, Params: params}
}

// StopPropagation prevents lower-priority listeners from running.
func (e *Event) StopPropagation(stop bool) { e.stopped = stop }

// PropagationStopped reports whether a listener stopped propagation.
func (e *Event) PropagationStopped() bool { return e.stopped }

// Err returns the error attached to the event (final.* and job.end).
func (e *Event) Err() error { return e.err }

// SetError replaces, or with nil clears, the attached error.
func (e *Event) SetError(err error) { e.err = err }

// Listener handles an event.
type Listener interface {
	Handle(ctx context.Context, e *Event) (any, error)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(ctx context.Context, e *Event) (any, error)

// Handle calls f.
func (f ListenerFunc) Handle(ctx context.Context, e *Event) (any, error) { return f(ctx, e) }
