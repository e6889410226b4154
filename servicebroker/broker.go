package servicebroker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/dispatcher"
	"github.com/next-trace/scg-service-broker/events"
	"github.com/next-trace/scg-service-broker/interceptor"
	"github.com/next-trace/scg-service-broker/metadata"
	"github.com/next-trace/scg-service-broker/registry"
)

const tracerName = "github.com/next-trace/scg-service-broker/servicebroker"

// Broker routes commands to registered services.
type Broker struct {
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	events     *events.Manager
	generator  *interceptor.Generator
	compiler   *metadata.Compiler
	source     metadata.Source

	defaultContext string
	defaultQueue   string
	queues         map[string]cbroker.Queue
	propagator     cbroker.HeaderPropagator
	resolver       IdentityResolver

	// global dispatch middleware executed in registration order
	middleware []Middleware
	handle     Handler

	idMu     sync.Mutex
	identity cbroker.Identity
	resolved bool

	registerer prometheus.Registerer
	metrics    *metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

var _ cbroker.Broker = (*Broker)(nil)

// New constructs a Broker with its own registry, dispatcher, event manager
// and interceptor generator.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{
		defaultContext: cbroker.ContextNative,
		queues:         make(map[string]cbroker.Queue),
		propagator:     cbroker.NopHeaderPropagator{},
		compiler:       metadata.NewCompiler(),
		tracer:         otel.Tracer(tracerName),
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	m, err := newMetrics(b.registerer)
	if err != nil {
		return nil, fmt.Errorf("broker metrics: %w", err)
	}

	b.metrics = m
	b.logger = b.logger.With(slog.String("component", "servicebroker"))
	b.events = events.NewManager(b.logger)
	b.dispatcher = dispatcher.New(b.logger)
	b.generator = interceptor.NewGenerator(b.compiler, b.source, b.events, b.logger)
	b.registry = registry.New(b.dispatcher, b.generator, b.logger)

	if b.resolver == nil {
		b.resolver = ServiceIdentityResolver{Broker: b}
	}

	// build chain so the first registered middleware runs first
	b.handle = b.dispatcher.Trigger
	for i := len(b.middleware) - 1; i >= 0; i-- {
		b.handle = b.middleware[i](b.handle)
	}

	return b, nil
}

// Register binds a service instance or registry.Builder under id and name.
func (b *Broker) Register(id, name string, svc any, priority int, opts ...registry.Option) error {
	if err := b.registry.Register(id, name, svc, priority, opts...); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}

	return nil
}

// Registry exposes the broker's registry for enable/disable and inspection.
func (b *Broker) Registry() *registry.Registry { return b.registry }

// Events exposes the lifecycle and operation event manager.
func (b *Broker) Events() *events.Manager { return b.events }

// Exists reports whether service has an enabled registration.
func (b *Broker) Exists(service string) bool { return b.registry.Exists(service) }

// DefaultContext returns the context given to commands that carry none.
func (b *Broker) DefaultContext() string { return b.defaultContext }

// Dispatch runs cmd through its lifecycle:
// job.start (queued commands only), init.<service>.<operation>, the
// listeners, final.<service>.<operation> and job.end. An init listener that
// stops propagation after returning false cancels the operation; final and
// job.end listeners may clear or replace the error.
func (b *Broker) Dispatch(ctx context.Context, cmd *cbroker.Command, until cbroker.StopPredicate) (res *cbroker.Responses, err error) {
	started := time.Now()
	outcome := outcomeOK

	ctx, span := b.tracer.Start(ctx, "servicebroker.dispatch", trace.WithAttributes(
		attribute.String("broker.service", cmd.Service),
		attribute.String("broker.operation", cmd.Operation),
		attribute.Bool("broker.queued", cmd.Queued()),
	))

	defer func() {
		if err != nil {
			outcome = outcomeError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
		b.metrics.observeDispatch(cmd.Service, cmd.Operation, outcome, started)
	}()

	if cmd.Context == "" {
		cmd.Context = b.defaultContext
	}

	if cmd.Identity == nil {
		id, err := b.DefaultIdentity(ctx)
		if err != nil {
			return nil, fmt.Errorf("dispatch %s.%s: %w", cmd.Service, cmd.Operation, err)
		}

		cmd.Identity = id
	}

	if !b.registry.Exists(cmd.Service) {
		return nil, berr.ServiceNotFound(cmd.Service)
	}

	if err := b.registry.AttachListeners(ctx, cmd.Service); err != nil {
		return nil, fmt.Errorf("dispatch %s.%s: %w", cmd.Service, cmd.Operation, err)
	}

	if cmd.Queued() {
		if _, err := b.events.Trigger(ctx, b.lifecycle(events.JobStart, cmd, nil)); err != nil {
			return nil, err
		}
	}

	initRes, err := b.events.Trigger(ctx, b.lifecycle(events.InitPrefix+b.eventSuffix(cmd), cmd, nil))
	if err != nil {
		return nil, err
	}

	if initRes.Stopped() && initRes.Contains(false) {
		outcome = outcomeShortCircuit

		res := cbroker.NewResponses()
		res.SetStopped(true)
		cmd.SetResponses(res)

		b.logger.DebugContext(ctx, "dispatch cancelled by init listener",
			slog.String("service", cmd.Service), slog.String("operation", cmd.Operation))

		if cmd.Queued() {
			if _, err := b.events.Trigger(ctx, b.lifecycle(events.JobEnd, cmd, nil)); err != nil {
				return nil, err
			}
		}

		return res, nil
	}

	res, held := b.handle(ctx, cmd, until)
	cmd.SetErr(held)

	final := b.lifecycle(events.FinalPrefix+b.eventSuffix(cmd), cmd, held)
	if _, err := b.events.Trigger(ctx, final); err != nil {
		if cmd.Queued() {
			cmd.SetErr(err)

			if _, endErr := b.events.Trigger(ctx, b.lifecycle(events.JobEnd, cmd, err)); endErr != nil {
				return nil, errors.Join(err, endErr)
			}
		}

		return nil, err
	}

	held = final.Err()

	if cmd.Queued() {
		end := b.lifecycle(events.JobEnd, cmd, held)
		if _, err := b.events.Trigger(ctx, end); err != nil {
			return nil, err
		}

		held = end.Err()
	}

	cmd.SetErr(held)

	if held != nil {
		return nil, held
	}

	if res == nil {
		res = cmd.Responses()
	}

	if res == nil {
		res = cbroker.NewResponses()
	}

	return res, nil
}

// Execute dispatches service.operation in the default context.
func (b *Broker) Execute(ctx context.Context, service, operation string, params cbroker.Params) (*cbroker.Responses, error) {
	return b.ExecuteInContext(ctx, "", service, operation, params)
}

// ExecuteInContext dispatches service.operation in the invocation context.
func (b *Broker) ExecuteInContext(ctx context.Context, invocation, service, operation string, params cbroker.Params) (*cbroker.Responses, error) {
	cmd := cbroker.NewCommand(service, operation, params)
	cmd.Context = invocation

	return b.Dispatch(ctx, cmd, nil)
}

// Chain dispatches commands in order and stops on the first error.
func (b *Broker) Chain(ctx context.Context, cmds ...*cbroker.Command) error {
	for _, c := range cmds {
		if _, err := b.Dispatch(ctx, c, nil); err != nil {
			return err
		}
	}

	return nil
}

// BatchOptions controls Batch execution behavior.
// OnProgress is called after each command completes (success or failure) with done and total.
// OnError is called when a command returns an error with its index, the command, and the error.
type BatchOptions struct {
	OnProgress func(done, total int)
	OnError    func(index int, cmd *cbroker.Command, err error)
}

// BatchOpt configures BatchOptions.
type BatchOpt func(*BatchOptions)

// WithBatchProgress sets the progress callback.
func WithBatchProgress(fn func(done, total int)) BatchOpt {
	return func(o *BatchOptions) { o.OnProgress = fn }
}

// WithBatchOnError sets the error callback.
func WithBatchOnError(fn func(index int, cmd *cbroker.Command, err error)) BatchOpt {
	return func(o *BatchOptions) { o.OnError = fn }
}

// Batch dispatches the commands sequentially.
// It respects context cancellation, reports progress, and aggregates errors.
func (b *Broker) Batch(ctx context.Context, cmds []*cbroker.Command, opts ...BatchOpt) error {
	var o BatchOptions
	for _, f := range opts {
		f(&o)
	}

	total := len(cmds)

	var errs []error

	for i, c := range cmds {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		if _, err := b.Dispatch(ctx, c, nil); err != nil {
			if o.OnError != nil {
				o.OnError(i, c, err)
			}

			errs = append(errs, err)
		}

		if o.OnProgress != nil {
			o.OnProgress(i+1, total)
		}
	}

	return errors.Join(errs...)
}

// Close closes every configured queue that holds resources.
func (b *Broker) Close() error {
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}

	sort.Strings(names)

	var errs []error

	for _, name := range names {
		if c, ok := b.queues[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (b *Broker) eventSuffix(cmd *cbroker.Command) string {
	return strings.ToLower(cmd.Service + "." + cmd.Operation)
}

func (b *Broker) lifecycle(name string, cmd *cbroker.Command, err error) *events.Event {
	e := events.New(name, cmd.Params)
	e.Command = cmd
	e.SetError(err)

	return e
}
