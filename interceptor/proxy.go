package interceptor

import (
	"context"
	"reflect"
	"strings"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/events"
	"github.com/next-trace/scg-service-broker/metadata"
)

// ResponseKey is the event parameter holding an operation's return value in
// post events.
const ResponseKey = "__response"

// Proxy is the command listener generated for one service object.
type Proxy struct {
	table   *table
	target  reflect.Value
	service string
	emitter Emitter
}

var _ cbroker.Listener = (*Proxy)(nil)

// Handle runs the operation named by cmd.
func (p *Proxy) Handle(ctx context.Context, cmd *cbroker.Command) (any, error) {
	name, op, ok := p.table.resolve(cmd.Operation)
	if !ok {
		return nil, berr.OperationNotFound(cmd.Service, cmd.Operation)
	}

	if !ContextAllowed(op.Contexts, cmd.Context) {
		return nil, berr.UnsupportedContext(cmd.Service, cmd.Operation, cmd.Context)
	}

	return p.call(push(ctx, p, cmd), cmd, name, op, cmd.Params)
}

// Invoke calls operation on the wrapped object from inside one of its own
// operations. Events are attributed to the command currently being handled;
// outside a command a native one is synthesised.
func (p *Proxy) Invoke(ctx context.Context, operation string, params cbroker.Params) (any, error) {
	name, op, ok := p.table.resolve(operation)
	if !ok {
		return nil, berr.OperationNotFound(p.service, operation)
	}

	cmd := top(ctx, p)
	if cmd == nil {
		cmd = cbroker.NewCommand(p.service, name, params)
		cmd.Context = cbroker.ContextNative
		ctx = push(ctx, p, cmd)
	}

	return p.call(ctx, cmd, name, op, params)
}

// Operations lists the canonical operation names the proxy exposes.
func (p *Proxy) Operations() []string { return p.table.operations() }

// Target returns the wrapped object.
func (p *Proxy) Target() any { return p.target.Interface() }

// Specification returns the compiled metadata behind the proxy.
func (p *Proxy) Specification() *metadata.Specification { return p.table.spec }

func (p *Proxy) call(ctx context.Context, cmd *cbroker.Command, name string, op metadata.OperationSpec, params cbroker.Params) (any, error) {
	for _, d := range op.EventsOf(metadata.EventPre) {
		if err := p.emit(ctx, cmd, d, params.Filter(d.Args)); err != nil {
			return nil, err
		}
	}

	out := p.target.Method(p.table.methods[name]).Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(params),
	})

	res := out[0].Interface()
	if errV := out[1].Interface(); errV != nil {
		return res, errV.(error)
	}

	for _, d := range op.EventsOf(metadata.EventPost) {
		ep := params.Filter(d.Args)
		ep.Set(ResponseKey, res)

		if err := p.emit(ctx, cmd, d, ep); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func (p *Proxy) emit(ctx context.Context, cmd *cbroker.Command, d metadata.EventDescriptor, params cbroker.Params) error {
	if p.emitter == nil {
		return nil
	}

	name := strings.ToLower(strings.ReplaceAll(d.Name, metadata.ServicePlaceholder, p.service))

	e := events.New(name, params)
	e.Command = cmd

	_, err := p.emitter.Trigger(ctx, e)

	return err
}
