package servicebroker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/next-trace/scg-service-broker/adapters/otelprop"
	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	"github.com/next-trace/scg-service-broker/internal/config"
	"github.com/next-trace/scg-service-broker/metadata"
)

// Option configures a Broker instance.
type Option func(*Broker)

// Handler runs a command against its listeners.
type Handler func(ctx context.Context, cmd *cbroker.Command, until cbroker.StopPredicate) (*cbroker.Responses, error)

// Middleware wraps listener dispatch. Middlewares are executed in registration order.
type Middleware func(next Handler) Handler

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithDefaultContext sets the context given to commands that carry none.
func WithDefaultContext(name string) Option {
	return func(b *Broker) {
		if name != "" {
			b.defaultContext = name
		}
	}
}

// WithQueue makes q available under name.
func WithQueue(name string, q cbroker.Queue) Option {
	return func(b *Broker) { b.queues[name] = q }
}

// WithDefaultQueue names the queue used when QueueOptions.Queue is empty.
func WithDefaultQueue(name string) Option {
	return func(b *Broker) { b.defaultQueue = name }
}

// WithMetadataSource sets where class declarations are looked up.
func WithMetadataSource(src metadata.Source) Option {
	return func(b *Broker) { b.source = src }
}

// WithIdentityResolver sets how job runners re-resolve identities.
func WithIdentityResolver(r IdentityResolver) Option {
	return func(b *Broker) { b.resolver = r }
}

// WithMetrics registers dispatch metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *Broker) { b.registerer = reg }
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(b *Broker) {
		if t != nil {
			b.tracer = t
		}
	}
}

// WithPropagator injects trace headers into queued jobs.
func WithPropagator(p cbroker.HeaderPropagator) Option {
	return func(b *Broker) {
		if p != nil {
			b.propagator = p
		}
	}
}

// WithMiddleware registers dispatch middleware.
func WithMiddleware(mw ...Middleware) Option {
	return func(b *Broker) { b.middleware = append(b.middleware, mw...) }
}

// FromConfig turns environment settings into options. Queue backends are
// opened by the caller.
func FromConfig(cfg config.Config) ([]Option, error) {
	opts := []Option{
		WithDefaultContext(cfg.DefaultContext),
		WithDefaultQueue(cfg.DefaultQueue),
	}

	if cfg.TracePropagation {
		opts = append(opts, WithPropagator(otelprop.TraceContext()))
	}

	if cfg.MetadataFile != "" {
		src, err := metadata.LoadYAML(cfg.MetadataFile)
		if err != nil {
			return nil, fmt.Errorf("broker config: %w", err)
		}

		opts = append(opts, WithMetadataSource(src))
	}

	return opts, nil
}
