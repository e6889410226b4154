package broker

import "reflect"

// Responses collects listener results in invocation order.
type Responses struct {
	items   []any
	stopped bool
}

// NewResponses returns an empty collection.
func NewResponses() *Responses { return &Responses{} }

// Push appends a result.
func (r *Responses) Push(v any) { r.items = append(r.items, v) }

// All returns a copy of the results.
func (r *Responses) All() []any { return append([]any(nil), r.items...) }

// Len returns the number of collected results.
func (r *Responses) Len() int { return len(r.items) }

// IsEmpty reports whether nothing was collected.
func (r *Responses) IsEmpty() bool { return len(r.items) == 0 }

// First returns the first result, or nil.
func (r *Responses) First() any {
	if len(r.items) == 0 {
		return nil
	}

	return r.items[0]
}

// Last returns the latest result, or nil.
func (r *Responses) Last() any {
	if len(r.items) == 0 {
		return nil
	}

	return r.items[len(r.items)-1]
}

// Stopped reports whether dispatch halted before running every listener.
func (r *Responses) Stopped() bool { return r.stopped }

// SetStopped marks the collection as stopped.
func (r *Responses) SetStopped(s bool) { r.stopped = s }

// Contains reports whether any result equals v. Values of uncomparable
// types never match.
func (r *Responses) Contains(v any) bool {
	for _, item := range r.items {
		if equal(item, v) {
			return true
		}
	}

	return false
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}

	return a == b
}
