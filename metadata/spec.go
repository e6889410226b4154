package metadata

import "sort"

// Specification is the compiled metadata of a service class. It is immutable;
// accessors return copies.
type Specification struct {
	version    string
	exclude    string
	operations map[string]OperationSpec
}

// OperationSpec is the compiled metadata of one operation.
type OperationSpec struct {
	Aliases  []string
	Contexts []string
	Events   []EventDescriptor
	Excluded bool
}

// EventDescriptor describes one event an operation triggers.
type EventDescriptor struct {
	Type string
	Name string
	// Args lists the params forwarded to the event; nil forwards all.
	Args []string
}

// Version returns the compiled version.
func (s *Specification) Version() string { return s.version }

// Exclude returns the exclude pattern of the most derived class.
func (s *Specification) Exclude() string { return s.exclude }

// Operation returns the spec compiled for name, including excluded ones.
func (s *Specification) Operation(name string) (OperationSpec, bool) {
	op, ok := s.operations[name]
	if !ok {
		return OperationSpec{}, false
	}

	return op.clone(), true
}

// Operations returns the names of every exposed operation, sorted.
func (s *Specification) Operations() []string {
	out := make([]string, 0, len(s.operations))
	for name, op := range s.operations {
		if !op.Excluded {
			out = append(out, name)
		}
	}

	sort.Strings(out)

	return out
}

// EventsOf returns the descriptors of the given type, in declaration order.
func (o OperationSpec) EventsOf(typ string) []EventDescriptor {
	var out []EventDescriptor

	for _, e := range o.Events {
		if e.Type == typ {
			out = append(out, e)
		}
	}

	return out
}

// AllowsAny reports whether the contexts set contains "*".
func (o OperationSpec) AllowsAny() bool {
	for _, c := range o.Contexts {
		if c == "*" {
			return true
		}
	}

	return false
}

func (o OperationSpec) clone() OperationSpec {
	out := OperationSpec{
		Aliases:  append([]string(nil), o.Aliases...),
		Contexts: append([]string(nil), o.Contexts...),
		Excluded: o.Excluded,
	}

	for _, e := range o.Events {
		e.Args = cloneArgs(e.Args)
		out.Events = append(out.Events, e)
	}

	return out
}

func cloneArgs(a []string) []string {
	if a == nil {
		return nil
	}

	return append([]string{}, a...)
}
