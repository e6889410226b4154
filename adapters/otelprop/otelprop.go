package otelprop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
)

// Propagator carries OpenTelemetry context through job headers.
type Propagator struct {
	tm propagation.TextMapPropagator
}

var (
	_ cbroker.HeaderPropagator = Propagator{}
	_ cbroker.HeaderExtractor  = Propagator{}
)

// New wraps tm. A nil tm falls back to the global propagator at call time.
func New(tm propagation.TextMapPropagator) Propagator { return Propagator{tm: tm} }

// TraceContext propagates W3C traceparent and baggage headers.
func TraceContext() Propagator {
	return New(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.textMap().Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return p.textMap().Extract(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) textMap() propagation.TextMapPropagator {
	if p.tm != nil {
		return p.tm
	}

	return otel.GetTextMapPropagator()
}
