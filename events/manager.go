package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	cbroker "github.com/next-trace/scg-service-broker/contract/broker"
	"github.com/next-trace/scg-service-broker/internal/priority"
)

// Manager routes events to listeners attached by name. Names are
// case-insensitive. Listeners run by descending priority, ties in attach order;
// wildcard listeners are merged into every event by the same rule.
//
// Manager is concurrency-safe and contains no global state.
type Manager struct {
	mu        sync.RWMutex
	listeners map[string]*priority.List[Listener]
	seq       uint64
	logger    *slog.Logger
}

// NewManager constructs an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		listeners: make(map[string]*priority.List[Listener]),
		logger:    logger.With(slog.String("component", "events")),
	}
}

// Attach registers l for name and returns a function that detaches it.
func (m *Manager) Attach(name string, l Listener, prio int) func() {
	name = strings.ToLower(name)

	m.mu.Lock()
	m.seq++
	key := strconv.FormatUint(m.seq, 10)

	list, ok := m.listeners[name]
	if !ok {
		list = &priority.List[Listener]{}
		m.listeners[name] = list
	}

	list.Insert(key, l, prio)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if list.Remove(key) && list.Len() == 0 {
			delete(m.listeners, name)
		}
	}
}

// AttachFunc registers a function listener.
func (m *Manager) AttachFunc(name string, fn func(ctx context.Context, e *Event) (any, error), prio int) func() {
	return m.Attach(name, ListenerFunc(fn), prio)
}

// HasListeners reports whether anything, wildcards included, listens to name.
func (m *Manager) HasListeners(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, named := m.listeners[strings.ToLower(name)]
	_, wild := m.listeners[Wildcard]

	return named || wild
}

// Trigger runs every listener of e.Name. A listener error aborts the run and is
// returned; a listener stopping propagation halts it and marks the responses
// stopped.
func (m *Manager) Trigger(ctx context.Context, e *Event) (*cbroker.Responses, error) {
	e.Name = strings.ToLower(e.Name)
	listeners := m.snapshot(e.Name)
	responses := cbroker.NewResponses()

	for _, l := range listeners {
		res, err := l.Handle(ctx, e)
		if err != nil {
			m.logger.DebugContext(ctx, "event listener failed", slog.String("event", e.Name), slog.Any("error", err))
			return responses, fmt.Errorf("event %s: %w", e.Name, err)
		}

		responses.Push(res)

		if e.PropagationStopped() {
			responses.SetStopped(true)
			break
		}
	}

	return responses, nil
}

func (m *Manager) snapshot(name string) []Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()

	named, wild := m.listeners[name], m.listeners[Wildcard]

	switch {
	case named == nil && wild == nil:
		return nil
	case wild == nil || name == Wildcard:
		return named.Values()
	case named == nil:
		return wild.Values()
	}

	// attach keys are a global sequence, so ties resolve to attach order
	all := append(named.Entries(), wild.Entries()...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}

		a, _ := strconv.ParseUint(all[i].Key, 10, 64)
		b, _ := strconv.ParseUint(all[j].Key, 10, 64)

		return a < b
	})

	out := make([]Listener, len(all))
	for i, e := range all {
		out[i] = e.Value
	}

	return out
}
