package broker

import "context"

// Invocation contexts known to the broker. Any other string is allowed;
// operations may whitelist them verbatim or by a trailing "*" prefix.
const (
	ContextNative   = "native"
	ContextHTTP     = "http"
	ContextHTTPGet  = "http-get"
	ContextHTTPPost = "http-post"
	ContextCLI      = "cli"
)

// HeaderPropagator abstracts injecting tracing context into headers.
// Implementations may bridge to OpenTelemetry or any other propagation standard.
// Implementors should mutate the provided headers map by inserting keys that
// carry the context across process boundaries. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
}

// NopHeaderPropagator is a no-op implementation useful for tests or when tracing is disabled.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(ctx context.Context, headers map[string]string) {
	_ = ctx
	_ = headers
}

// HeaderExtractor is the consuming side of a HeaderPropagator: it restores
// the carried context from a delivery's headers.
type HeaderExtractor interface {
	Extract(ctx context.Context, headers map[string]string) context.Context
}
