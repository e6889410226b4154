package broker

import "context"

// Command is the unit of dispatch: it names a service and one of its operations,
// carries the ordered params, the invocation context and the acting identity.
//
// Responses stay nil until a dispatcher starts processing the command.
type Command struct {
	Service   string
	Operation string
	Params    Params
	Context   string
	Identity  Identity

	responses *Responses
	err       error
	queued    bool
	stopped   bool
}

// NewCommand constructs a command for service.operation.
func NewCommand(service, operation string, params Params) *Command {
	return &Command{Service: service, Operation: operation, Params: params}
}

// StopPropagation tells the dispatcher not to call any further listener.
func (c *Command) StopPropagation(stop bool) { c.stopped = stop }

// PropagationStopped reports whether a listener stopped propagation.
func (c *Command) PropagationStopped() bool { return c.stopped }

// Responses returns the collection being filled by the dispatcher, or nil.
func (c *Command) Responses() *Responses { return c.responses }

// SetResponses attaches the collection a dispatcher fills.
func (c *Command) SetResponses(r *Responses) { c.responses = r }

// Err returns the error held while lifecycle events run.
func (c *Command) Err() error { return c.err }

// SetErr replaces the held error.
func (c *Command) SetErr(err error) { c.err = err }

// Queued reports whether the command originates from a queued job.
func (c *Command) Queued() bool { return c.queued }

// SetQueued flags the command as originating from a queued job.
func (c *Command) SetQueued(q bool) { c.queued = q }

// Clone returns a copy without dispatch state.
func (c *Command) Clone() *Command {
	return &Command{
		Service:   c.Service,
		Operation: c.Operation,
		Params:    c.Params.Clone(),
		Context:   c.Context,
		Identity:  c.Identity.Clone(),
		queued:    c.queued,
	}
}

type commandKey struct{}

// WithCommand returns ctx carrying cmd as the command being handled.
func WithCommand(ctx context.Context, cmd *Command) context.Context {
	return context.WithValue(ctx, commandKey{}, cmd)
}

// CommandFromContext returns the command a service operation is running
// under, or nil outside a dispatch. Operations use it to read the acting
// identity or to stop propagation.
func CommandFromContext(ctx context.Context) *Command {
	cmd, _ := ctx.Value(commandKey{}).(*Command)
	return cmd
}
