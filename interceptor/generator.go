package interceptor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	"github.com/next-trace/scg-service-broker/events"
	"github.com/next-trace/scg-service-broker/metadata"
)

// Emitter delivers operation events. *events.Manager implements it.
type Emitter interface {
	Trigger(ctx context.Context, e *events.Event) (*cbroker.Responses, error)
}

// ProxyAware targets receive the proxy wrapping them, so they can call their
// own operations through it with Invoke.
type ProxyAware interface {
	SetProxy(p *Proxy)
}

type tableKey struct {
	class     string
	serviceID string
}

// Generator builds proxies. It is safe for concurrent use.
type Generator struct {
	compiler *metadata.Compiler
	source   metadata.Source
	emitter  Emitter
	logger   *slog.Logger

	mu     sync.RWMutex
	tables map[tableKey]*table
	group  singleflight.Group

	generations atomic.Int64
}

// NewGenerator returns a Generator. A nil compiler gets a private one; source
// and emitter may be nil.
func NewGenerator(compiler *metadata.Compiler, source metadata.Source, emitter Emitter, logger *slog.Logger) *Generator {
	if compiler == nil {
		compiler = metadata.NewCompiler()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Generator{
		compiler: compiler,
		source:   source,
		emitter:  emitter,
		logger:   logger.With(slog.String("component", "interceptor")),
		tables:   make(map[tableKey]*table),
	}
}

// Proxy wraps target as the listener of service, registered under serviceID.
func (g *Generator) Proxy(serviceID, service string, target any) (*Proxy, error) {
	if target == nil {
		return nil, fmt.Errorf("interceptor %s: nil target", serviceID)
	}

	t, err := g.table(serviceID, target)
	if err != nil {
		return nil, err
	}

	p := &Proxy{
		table:   t,
		target:  reflect.ValueOf(target),
		service: service,
		emitter: g.emitter,
	}

	if aware, ok := target.(ProxyAware); ok {
		aware.SetProxy(p)
	}

	return p, nil
}

// Generations returns how many dispatch tables have been built.
func (g *Generator) Generations() int64 { return g.generations.Load() }

func (g *Generator) table(serviceID string, target any) (*table, error) {
	key := tableKey{class: metadata.ClassOf(target), serviceID: serviceID}

	g.mu.RLock()
	t, ok := g.tables[key]
	g.mu.RUnlock()

	if ok {
		return t, nil
	}

	v, err, _ := g.group.Do(key.class+"\x00"+key.serviceID, func() (any, error) {
		g.mu.RLock()
		t, ok := g.tables[key]
		g.mu.RUnlock()

		if ok {
			return t, nil
		}

		t, err := g.generate(key, target)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.tables[key] = t
		g.mu.Unlock()

		return t, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*table), nil
}

func (g *Generator) generate(key tableKey, target any) (*table, error) {
	methods := operationsOf(reflect.TypeOf(target))

	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}

	sort.Strings(names)

	spec, err := g.compiler.CompileFor(g.source, target, names)
	if err != nil {
		return nil, fmt.Errorf("interceptor %s: %w", key.serviceID, err)
	}

	t, err := buildTable(key.class, spec, methods)
	if err != nil {
		return nil, fmt.Errorf("interceptor %s: %w", key.serviceID, err)
	}

	g.generations.Add(1)
	g.logger.Debug("dispatch table generated",
		slog.String("class", key.class),
		slog.String("service_id", key.serviceID),
		slog.Int("operations", len(t.methods)),
	)

	return t, nil
}
