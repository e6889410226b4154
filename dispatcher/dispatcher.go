package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	berr "github.com/next-trace/scg-service-broker/contract/errors"
	"github.com/next-trace/scg-service-broker/internal/priority"
)

// Dispatcher holds the listeners attached per service name.
//
// Dispatcher is concurrency-safe and contains no global state.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string]*priority.List[cbroker.Listener]
	logger    *slog.Logger
}

// New constructs an empty dispatcher.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		listeners: make(map[string]*priority.List[cbroker.Listener]),
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
}

// Attach adds l under id for service. Attaching an existing id replaces it
// and moves it behind its equal-priority peers.
func (d *Dispatcher) Attach(service, id string, l cbroker.Listener, prio int) {
	d.list(service).Insert(id, l, prio)
	d.mu.Unlock()
}

// AttachAt is Attach with an explicit order among equal priorities; lower
// order runs first. Re-attaching with the same order restores the position.
func (d *Dispatcher) AttachAt(service, id string, l cbroker.Listener, prio int, order uint64) {
	d.list(service).InsertAt(id, l, prio, order)
	d.mu.Unlock()
}

// list returns the list of service with d.mu held for writing.
func (d *Dispatcher) list(service string) *priority.List[cbroker.Listener] {
	d.mu.Lock()

	list, ok := d.listeners[service]
	if !ok {
		list = &priority.List[cbroker.Listener]{}
		d.listeners[service] = list
	}

	return list
}

// Detach removes id from service and reports whether it was attached.
func (d *Dispatcher) Detach(service, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list, ok := d.listeners[service]
	if !ok {
		return false
	}

	removed := list.Remove(id)
	if list.Len() == 0 {
		delete(d.listeners, service)
	}

	return removed
}

// Attached reports whether id is attached to service.
func (d *Dispatcher) Attached(service, id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list, ok := d.listeners[service]

	return ok && list.Has(id)
}

// Listeners returns the attached ids of service in invocation order.
func (d *Dispatcher) Listeners(service string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	list, ok := d.listeners[service]
	if !ok {
		return nil
	}

	return list.Keys()
}

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeSkip
	outcomeFatal
)

type outcome struct {
	kind  outcomeKind
	value any
	err   error
}

func invoke(ctx context.Context, l cbroker.Listener, cmd *cbroker.Command) outcome {
	v, err := l.Handle(ctx, cmd)

	switch {
	case err == nil:
		return outcome{kind: outcomeSuccess, value: v}
	case errors.Is(err, berr.ErrSkippable):
		return outcome{kind: outcomeSkip, err: err}
	default:
		return outcome{kind: outcomeFatal, err: err}
	}
}

// Trigger runs the listeners of cmd.Service and collects their responses.
func (d *Dispatcher) Trigger(ctx context.Context, cmd *cbroker.Command, until cbroker.StopPredicate) (*cbroker.Responses, error) {
	d.mu.RLock()

	var listeners []cbroker.Listener
	if list, ok := d.listeners[cmd.Service]; ok {
		listeners = list.Values()
	}

	d.mu.RUnlock()

	responses := cbroker.NewResponses()
	cmd.SetResponses(responses)

	var skipped error

loop:
	for _, l := range listeners {
		o := invoke(ctx, l, cmd)

		switch o.kind {
		case outcomeFatal:
			return nil, o.err
		case outcomeSkip:
			d.logger.DebugContext(ctx, "listener skipped",
				slog.String("service", cmd.Service),
				slog.String("operation", cmd.Operation),
				slog.Any("error", o.err))

			skipped = o.err

			if cmd.PropagationStopped() {
				responses.SetStopped(true)
				break loop
			}

			continue
		case outcomeSuccess:
		}

		responses.Push(o.value)

		if cmd.PropagationStopped() || (until != nil && until(o.value)) {
			responses.SetStopped(true)
			break
		}
	}

	if responses.IsEmpty() && skipped != nil {
		return nil, skipped
	}

	return responses, nil
}
