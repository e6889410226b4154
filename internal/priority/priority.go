// Package priority keeps values ordered by descending priority, ties in
// insertion order.
package priority

import "sort"

type entry[T any] struct {
	key      string
	priority int
	seq      uint64
	value    T
}

// List is not safe for concurrent use; owners guard it.
type List[T any] struct {
	entries []entry[T]
	seq     uint64
}

// Insert adds value under key. An existing key is replaced and moves to the
// end of its priority band.
func (l *List[T]) Insert(key string, value T, priority int) {
	l.InsertAt(key, value, priority, l.seq+1)
}

// InsertAt adds value under key with an explicit tie-breaker: within one
// priority band lower seq runs first. Owners that track their own ordering
// use it so a re-inserted key returns to its original place.
func (l *List[T]) InsertAt(key string, value T, priority int, seq uint64) {
	l.Remove(key)
	if seq > l.seq {
		l.seq = seq
	}

	e := entry[T]{key: key, priority: priority, seq: seq, value: value}

	i := sort.Search(len(l.entries), func(i int) bool {
		c := l.entries[i]
		return c.priority < priority || (c.priority == priority && c.seq > seq)
	})

	l.entries = append(l.entries, entry[T]{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
}

// Remove drops key and reports whether it was present.
func (l *List[T]) Remove(key string) bool {
	for i, e := range l.entries {
		if e.key == key {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}

	return false
}

// Has reports whether key is present.
func (l *List[T]) Has(key string) bool {
	for _, e := range l.entries {
		if e.key == key {
			return true
		}
	}

	return false
}

// Len returns the number of entries.
func (l *List[T]) Len() int { return len(l.entries) }

// Values returns a snapshot in invocation order.
func (l *List[T]) Values() []T {
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.value
	}

	return out
}

// Keys returns a snapshot of keys in invocation order.
func (l *List[T]) Keys() []string {
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.key
	}

	return out
}

// Entry is an exported view of one list element.
type Entry[T any] struct {
	Key      string
	Priority int
	Value    T
}

// Entries returns a snapshot in invocation order.
func (l *List[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(l.entries))
	for i, e := range l.entries {
		out[i] = Entry[T]{Key: e.key, Priority: e.priority, Value: e.value}
	}

	return out
}
