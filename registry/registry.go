// Package registry binds service ids to listeners and attaches them to the
// dispatcher on first use.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/dispatcher"
	"github.com/next-trace/scg-service-broker/interceptor"
)

var (
	namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)*$`)
	idPattern   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Builder constructs a service instance on first use. Builders must not
// dispatch to the service they build.
type Builder func(ctx context.Context, options map[string]any) (any, error)

// Option customises a registration.
type Option func(*entry)

// WithOptions passes options to the registration's Builder.
func WithOptions(opts map[string]any) Option {
	return func(e *entry) { e.options = opts }
}

// Disabled registers the service without enabling it.
func Disabled() Option {
	return func(e *entry) { e.enabled = false }
}

// Registration describes one registered id.
type Registration struct {
	ID       string
	Name     string
	Priority int
	Enabled  bool
	Attached bool
	Built    bool
}

type entry struct {
	id       string
	name     string
	priority int
	order    uint64
	enabled  bool
	attached bool

	instance any
	builder  Builder
	options  map[string]any

	listener cbroker.Listener
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	seq     uint64

	group singleflight.Group

	dispatcher *dispatcher.Dispatcher
	generator  *interceptor.Generator
	logger     *slog.Logger
}

// New returns a Registry attaching to d and wrapping plain objects with g.
func New(d *dispatcher.Dispatcher, g *interceptor.Generator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		entries:    make(map[string]*entry),
		dispatcher: d,
		generator:  g,
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// Register binds id to svc under the service name. svc is an instance, a
// Builder, or a broker.Listener which is attached as is. Registering an id
// again under the same name replaces the previous registration.
func (r *Registry) Register(id, name string, svc any, priority int, opts ...Option) error {
	if !namePattern.MatchString(name) {
		return berr.InvalidService("Service name %name% is invalid", map[string]any{"name": name})
	}

	if !idPattern.MatchString(id) {
		return berr.InvalidService("Service id %id% is invalid", map[string]any{"id": id})
	}

	if svc == nil {
		return berr.InvalidService("Service %id% has no instance", map[string]any{"id": id})
	}

	e := &entry{id: id, name: name, priority: priority, enabled: true}

	switch v := svc.(type) {
	case Builder:
		e.builder = v
	case func(context.Context, map[string]any) (any, error):
		e.builder = v
	default:
		e.instance = svc
	}

	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.entries[id]; ok {
		if old.name != name {
			return berr.InvalidService("Service id %id% is already registered for %name%",
				map[string]any{"id": id, "name": old.name})
		}

		if old.attached {
			r.dispatcher.Detach(old.name, id)
		}

		e.order = old.order
	} else {
		r.seq++
		e.order = r.seq
		r.order = append(r.order, id)
	}

	r.entries[id] = e
	r.logger.Debug("service registered", slog.String("id", id), slog.String("service", name), slog.Int("priority", priority))

	return nil
}

// AttachListeners attaches every enabled, not yet attached registration of
// name, building it first when needed. It is idempotent.
func (r *Registry) AttachListeners(ctx context.Context, name string) error {
	r.mu.RLock()

	var pending []*entry

	for _, id := range r.order {
		e := r.entries[id]
		if e.name == name && e.enabled && !e.attached {
			pending = append(pending, e)
		}
	}

	r.mu.RUnlock()

	for _, e := range pending {
		l, err := r.listener(ctx, e)
		if err != nil {
			return err
		}

		r.mu.Lock()
		if r.entries[e.id] == e && e.enabled && !e.attached {
			r.dispatcher.AttachAt(e.name, e.id, l, e.priority, e.order)
			e.attached = true
		}
		r.mu.Unlock()
	}

	return nil
}

// Enable turns id on. A listener that was already built is attached at once;
// otherwise attachment waits for the next AttachListeners. It returns false
// when id is unknown or already enabled.
func (r *Registry) Enable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.enabled {
		return false
	}

	e.enabled = true

	if e.listener != nil {
		r.dispatcher.AttachAt(e.name, e.id, e.listener, e.priority, e.order)
		e.attached = true
	}

	return true
}

// Disable detaches id. It returns false when id is unknown or already
// disabled.
func (r *Registry) Disable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || !e.enabled {
		return false
	}

	e.enabled = false

	if e.attached {
		r.dispatcher.Detach(e.name, e.id)
		e.attached = false
	}

	return true
}

// Exists reports whether an enabled registration exists for name.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.name == name && e.enabled {
			return true
		}
	}

	return false
}

// Names returns the registered service names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.entries))
	out := make([]string, 0, len(r.entries))

	for _, e := range r.entries {
		if _, ok := seen[e.name]; ok {
			continue
		}

		seen[e.name] = struct{}{}
		out = append(out, e.name)
	}

	sort.Strings(out)

	return out
}

// Registration describes id.
func (r *Registry) Registration(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Registration{}, false
	}

	return Registration{
		ID:       e.id,
		Name:     e.name,
		Priority: e.priority,
		Enabled:  e.enabled,
		Attached: e.attached,
		Built:    e.listener != nil,
	}, true
}

// Instance returns the service object behind id, building it if needed.
func (r *Registry) Instance(ctx context.Context, id string) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()

	if !ok {
		return nil, berr.ServiceNotFound(id)
	}

	if _, err := r.listener(ctx, e); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return e.instance, nil
}

// listener builds e at most once.
func (r *Registry) listener(ctx context.Context, e *entry) (cbroker.Listener, error) {
	r.mu.RLock()
	l := e.listener
	r.mu.RUnlock()

	if l != nil {
		return l, nil
	}

	v, err, _ := r.group.Do(fmt.Sprintf("%s/%p", e.id, e), func() (any, error) {
		r.mu.RLock()
		l, instance := e.listener, e.instance
		r.mu.RUnlock()

		if l != nil {
			return l, nil
		}

		if e.builder != nil {
			built, err := e.builder(ctx, e.options)
			if err != nil {
				return nil, fmt.Errorf("build service %s: %w", e.id, err)
			}

			if built == nil {
				return nil, berr.InvalidService("Builder of service %id% returned nothing", map[string]any{"id": e.id})
			}

			instance = built
		}

		l, err := r.wrap(e, instance)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		e.instance = instance
		e.listener = l
		r.mu.Unlock()

		return l, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(cbroker.Listener), nil
}

func (r *Registry) wrap(e *entry, instance any) (cbroker.Listener, error) {
	if l, ok := instance.(cbroker.Listener); ok {
		return l, nil
	}

	if r.generator == nil {
		return nil, berr.Configuration("Service %id% needs an interceptor generator", map[string]any{"id": e.id})
	}

	p, err := r.generator.Proxy(e.id, e.name, instance)
	if err != nil {
		return nil, fmt.Errorf("wrap service %s: %w", e.id, err)
	}

	return p, nil
}
